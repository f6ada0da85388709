package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"h2all/internal/model"
	"h2all/internal/utils"
)

type CampaignService struct {
	db       *gorm.DB
	cache    Cache
	cacheTTL time.Duration
}

// NewCampaignService wires campaign CRUD. cache may be nil, in which case
// summaries are always read from the database.
func NewCampaignService(db *gorm.DB, cache Cache, cacheTTL time.Duration) *CampaignService {
	return &CampaignService{db: db, cache: cache, cacheTTL: cacheTTL}
}

type CampaignInput struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     *string         `json:"description"`
	RedemptionValue decimal.Decimal `json:"redemptionValue"`
	IsActive        *bool           `json:"isActive"`
	ExpiresAt       *time.Time      `json:"expiresAt"`
	Metadata        map[string]any  `json:"metadata"`
}

type CampaignPatch struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	RedemptionValue *decimal.Decimal `json:"redemptionValue"`
	IsActive        *bool            `json:"isActive"`
	ExpiresAt       *time.Time       `json:"expiresAt"`
	ClearExpiry     bool             `json:"clearExpiry"`
	Metadata        map[string]any   `json:"metadata"`
}

type CampaignFilter struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}

// CampaignSummary is the public view shown on the landing page.
type CampaignSummary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	RedemptionValue decimal.Decimal `json:"redemptionValue"`
	Status          string          `json:"status"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
}

const maxPageSize = 100

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func campaignCacheKey(id string) string {
	return "h2all:campaign:summary:" + id
}

func campaignNotFound(id string) *Error {
	return newError(KindNotFound, "CAMPAIGN_NOT_FOUND", "campaign not found", map[string]any{"campaignId": id})
}

func (s *CampaignService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, campaignCacheKey(id)); err != nil {
		zap.L().Warn("campaign cache invalidation failed", zap.String("campaign_id", id), zap.Error(err))
	}
}

func (s *CampaignService) Create(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, newError(KindValidation, "VALIDATION_FAILED", "name is required", map[string]any{"field": "name"})
	}
	if !in.RedemptionValue.IsPositive() {
		return nil, newError(KindValidation, "VALIDATION_FAILED", "redemptionValue must be positive", map[string]any{"field": "redemptionValue"})
	}
	if in.ID != "" && !utils.DefaultCampaignIDPattern.MatchString(in.ID) {
		return nil, newError(KindValidation, "VALIDATION_FAILED", "invalid campaign id format", map[string]any{"field": "id"})
	}

	c := &model.Campaign{
		BaseModel:       model.BaseModel{ID: in.ID},
		Name:            in.Name,
		Description:     in.Description,
		RedemptionValue: in.RedemptionValue,
		IsActive:        lo.FromPtrOr(in.IsActive, true),
		ExpiresAt:       in.ExpiresAt,
	}
	if in.Metadata != nil {
		c.Metadata = datatypes.JSONMap(in.Metadata)
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return nil, ClassifyStoreError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, newError(KindConflict, "CONFLICT", "campaign id already exists", map[string]any{"campaignId": in.ID})
	}
	c.DeriveStatus(time.Now())
	return c, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, campaignNotFound(id)
		}
		return nil, ClassifyStoreError(err)
	}
	return &c, nil
}

func (s *CampaignService) List(ctx context.Context, f CampaignFilter) ([]model.Campaign, int64, error) {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
	q := s.db.WithContext(ctx).Model(&model.Campaign{}).Where("deleted_at IS NULL")
	now := time.Now()
	switch f.Status {
	case model.CampaignStatusActive:
		q = q.Where("is_active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now)
	case model.CampaignStatusInactive:
		q = q.Where("is_active = ?", false)
	case model.CampaignStatusExpired:
		q = q.Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		q = q.Where("name LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	var items []model.Campaign
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).Find(&items).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	return items, total, nil
}

func (s *CampaignService) Update(ctx context.Context, id string, p CampaignPatch) (*model.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, newError(KindValidation, "VALIDATION_FAILED", "name must not be empty", map[string]any{"field": "name"})
		}
		updates["name"] = name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.RedemptionValue != nil {
		if !p.RedemptionValue.IsPositive() {
			return nil, newError(KindValidation, "VALIDATION_FAILED", "redemptionValue must be positive", map[string]any{"field": "redemptionValue"})
		}
		updates["redemption_value"] = *p.RedemptionValue
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if p.ClearExpiry {
		updates["expires_at"] = nil
	} else if p.ExpiresAt != nil {
		updates["expires_at"] = *p.ExpiresAt
	}
	if p.Metadata != nil {
		updates["metadata"] = datatypes.JSONMap(p.Metadata)
	}
	if len(updates) == 0 {
		return c, nil
	}

	if err := s.db.WithContext(ctx).Model(&model.Campaign{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, ClassifyStoreError(err)
	}
	s.invalidate(ctx, id)
	return s.Get(ctx, id)
}

// Delete soft-deletes the campaign together with its unused codes. Redeemed
// codes stay as the record of value paid out.
func (s *CampaignService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.RedemptionCode{}).
			Where("campaign_id = ? AND is_used = ? AND deleted_at IS NULL", id, false).
			Update("deleted_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&model.Campaign{}).Where("id = ?", id).Update("deleted_at", now).Error
	})
	if err != nil {
		return ClassifyStoreError(err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Summary returns the public campaign view, served from cache when possible.
func (s *CampaignService) Summary(ctx context.Context, id string) (*CampaignSummary, error) {
	key := campaignCacheKey(id)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var sum CampaignSummary
			if err := json.Unmarshal(raw, &sum); err == nil {
				return &sum, nil
			}
		}
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := &CampaignSummary{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		RedemptionValue: c.RedemptionValue,
		Status:          c.Status,
		ExpiresAt:       c.ExpiresAt,
	}
	if s.cache != nil && s.cacheTTL > 0 {
		ttl := s.cacheTTL
		// Do not serve an "active" summary past the campaign expiry.
		if c.ExpiresAt != nil {
			if until := time.Until(*c.ExpiresAt); until > 0 && until < ttl {
				ttl = until
			}
		}
		if raw, err := json.Marshal(sum); err == nil {
			_ = s.cache.Set(ctx, key, raw, ttl)
		}
	}
	return sum, nil
}

type ReconcileResult struct {
	CampaignID string           `json:"campaignId"`
	Before     CampaignCounters `json:"before"`
	After      CampaignCounters `json:"after"`
	Changed    bool             `json:"changed"`
}

type CampaignCounters struct {
	TotalCodes           int             `json:"totalCodes"`
	TotalRedemptions     int             `json:"totalRedemptions"`
	TotalRedemptionValue decimal.Decimal `json:"totalRedemptionValue"`
}

// Reconcile recomputes the campaign counters from its codes: totals count
// live codes, redemptions count used codes and sum their credited value.
func (s *CampaignService) Reconcile(ctx context.Context, id string) (*ReconcileResult, error) {
	var out *ReconcileResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Campaign
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND deleted_at IS NULL", id).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return campaignNotFound(id)
			}
			return err
		}

		var totalCodes int64
		if err := tx.Model(&model.RedemptionCode{}).
			Where("campaign_id = ? AND (deleted_at IS NULL OR is_used = ?)", id, true).
			Count(&totalCodes).Error; err != nil {
			return err
		}
		var values []decimal.NullDecimal
		if err := tx.Model(&model.RedemptionCode{}).
			Where("campaign_id = ? AND is_used = ?", id, true).
			Pluck("redemption_value", &values).Error; err != nil {
			return err
		}
		sum := lo.Reduce(values, func(acc decimal.Decimal, v decimal.NullDecimal, _ int) decimal.Decimal {
			if !v.Valid {
				return acc
			}
			return acc.Add(v.Decimal)
		}, decimal.Zero)

		before := CampaignCounters{c.TotalCodes, c.TotalRedemptions, c.TotalRedemptionValue}
		after := CampaignCounters{int(totalCodes), len(values), sum}
		out = &ReconcileResult{
			CampaignID: id,
			Before:     before,
			After:      after,
			Changed: before.TotalCodes != after.TotalCodes ||
				before.TotalRedemptions != after.TotalRedemptions ||
				!before.TotalRedemptionValue.Equal(after.TotalRedemptionValue),
		}
		if !out.Changed {
			return nil
		}
		return tx.Model(&model.Campaign{}).Where("id = ?", id).Updates(map[string]any{
			"total_codes":            after.TotalCodes,
			"total_redemptions":      after.TotalRedemptions,
			"total_redemption_value": after.TotalRedemptionValue,
		}).Error
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, ClassifyStoreError(err)
	}
	if out.Changed {
		zap.L().Warn("campaign counters drifted and were reconciled",
			zap.String("campaign_id", id),
			zap.Int("redemptions_before", out.Before.TotalRedemptions),
			zap.Int("redemptions_after", out.After.TotalRedemptions),
		)
	}
	return out, nil
}
