package handler

import (
    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    basichttp "h2all/internal/http"
    "h2all/internal/service"
)

type UserHandler struct {
    users *service.UserService
}

func NewUserHandler(db *gorm.DB) *UserHandler {
    return &UserHandler{users: service.NewUserService(db)}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
    page := queryInt(c, "page", 1)
    size := queryInt(c, "page_size", 20)
    items, total, err := h.users.List(c.Request.Context(), c.Query("q"), page, size)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, gin.H{"total": total, "items": items, "page": page, "page_size": size})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
    id := c.Param("id")
    user, err := h.users.Get(c.Request.Context(), id)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    redemptions, err := h.users.Redemptions(c.Request.Context(), id, queryInt(c, "limit", 20))
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, gin.H{"user": user, "redemptions": redemptions})
}

// GET /api/users/by-email?email=
func (h *UserHandler) GetByEmail(c *gin.Context) {
    user, err := h.users.GetByEmail(c.Request.Context(), c.Query("email"))
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, user)
}
