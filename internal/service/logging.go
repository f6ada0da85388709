package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"h2all/internal/model"
)

// Admin operation names recorded in the operation log.
const (
	OpCampaignCreate    = "campaign_create"
	OpCampaignUpdate    = "campaign_update"
	OpCampaignDelete    = "campaign_delete"
	OpCampaignReconcile = "campaign_reconcile"
	OpCodesGenerate     = "codes_generate"
	OpCodesBulkGenerate = "codes_bulk_generate"
	OpCodeDelete        = "code_delete"
	OpCodeRedeem        = "code_redeem"
)

// LogOperation creates an operation log record for admin actions. Failures
// are logged and otherwise ignored.
func LogOperation(ctx context.Context, db *gorm.DB, adminID, action, objectType, objectID string, metadata map[string]any) {
	entry := &model.OperationLog{
		AdminID:    adminID,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
	}
	if metadata != nil {
		entry.Metadata = datatypes.JSONMap(metadata)
	}
	if err := db.WithContext(ctx).Create(entry).Error; err != nil {
		zap.L().Warn("failed to write operation log",
			zap.String("action", action),
			zap.String("object_id", objectID),
			zap.Error(err),
		)
	}
}

type OperationLogFilter struct {
	AdminID    string
	Action     string
	ObjectType string
	ObjectID   string
	Since      *time.Time
	Page       int
	PageSize   int
}

func ListOperationLogs(ctx context.Context, db *gorm.DB, f OperationLogFilter) ([]model.OperationLog, int64, error) {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
	q := db.WithContext(ctx).Model(&model.OperationLog{}).Where("deleted_at IS NULL")
	if f.AdminID != "" {
		q = q.Where("admin_id = ?", f.AdminID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ObjectType != "" {
		q = q.Where("object_type = ?", f.ObjectType)
	}
	if f.ObjectID != "" {
		q = q.Where("object_id = ?", f.ObjectID)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	var items []model.OperationLog
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).Find(&items).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	return items, total, nil
}
