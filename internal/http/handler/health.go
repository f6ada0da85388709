package handler

import (
    "net/http"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    "h2all/internal/config"
    "h2all/internal/service"
)

type HealthHandler struct {
    db    *gorm.DB
    cache service.Cache
}

func NewHealthHandler(db *gorm.DB, cache service.Cache) *HealthHandler {
    return &HealthHandler{db: db, cache: cache}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
    cacheTier := "memory"
    if h.cache != nil && h.cache.Healthy() {
        cacheTier = "redis"
    }
    c.JSON(http.StatusOK, gin.H{
        "status":   "ok",
        "service":  "h2all",
        "hostname": config.Hostname(),
        "cache":    cacheTier,
    })
}

// GET /health/db
func (h *HealthHandler) HealthDB(c *gin.Context) {
    sqlDB, err := h.db.DB()
    if err == nil {
        err = sqlDB.PingContext(c.Request.Context())
    }
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "database unavailable"})
        return
    }
    c.JSON(http.StatusOK, gin.H{"status": "ok", "database": h.db.Dialector.Name()})
}
