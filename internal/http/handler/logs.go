package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	basichttp "h2all/internal/http"
	"h2all/internal/service"
)

type LogHandler struct {
	db *gorm.DB
}

func NewLogHandler(db *gorm.DB) *LogHandler {
	return &LogHandler{db: db}
}

// GET /api/admin/logs/operations
func (h *LogHandler) ListOperationLogs(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 20)
	f := service.OperationLogFilter{
		AdminID:    c.Query("admin_id"),
		Action:     c.Query("action"),
		ObjectType: c.Query("object_type"),
		ObjectID:   c.Query("object_id"),
		Page:       page,
		PageSize:   size,
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = &t
		}
	}
	items, total, err := service.ListOperationLogs(c.Request.Context(), h.db, f)
	if err != nil {
		basichttp.FailWithError(c, err)
		return
	}
	basichttp.OK(c, gin.H{"total": total, "items": items, "page": page, "page_size": size})
}
