package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"h2all/internal/metrics"
	"h2all/internal/model"
	"h2all/internal/utils"
)

const (
	// MaxDirectGenerate bounds the per-request quantity of the
	// /api/redemption-codes generate action.
	MaxDirectGenerate = 100
	insertBatchSize   = 200
)

type CodeService struct {
	db *gorm.DB
}

func NewCodeService(db *gorm.DB) *CodeService {
	return &CodeService{db: db}
}

type CodeFilter struct {
	ID         string
	CampaignID string
	Code       string
	BatchID    string
	IsUsed     *bool
	Page       int
	PageSize   int
}

func (s *CodeService) List(ctx context.Context, f CodeFilter) ([]model.RedemptionCode, int64, error) {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
	q := s.db.WithContext(ctx).Model(&model.RedemptionCode{}).Where("deleted_at IS NULL")
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if f.CampaignID != "" {
		q = q.Where("campaign_id = ?", f.CampaignID)
	}
	if f.Code != "" {
		q = q.Where("unique_code = ?", f.Code)
	}
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.IsUsed != nil {
		q = q.Where("is_used = ?", *f.IsUsed)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	var items []model.RedemptionCode
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).Find(&items).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	return items, total, nil
}

func (s *CodeService) liveCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", campaignID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, campaignNotFound(campaignID)
		}
		return nil, ClassifyStoreError(err)
	}
	return &c, nil
}

type GenerateResult struct {
	CampaignID string                 `json:"campaignId"`
	BatchID    string                 `json:"batchId"`
	Requested  int                    `json:"requested"`
	Codes      []model.RedemptionCode `json:"codes"`
	Errors     []string               `json:"errors,omitempty"`
}

// Partial reports whether some, but not all, requested codes were stored.
func (r *GenerateResult) Partial() bool {
	return len(r.Codes) > 0 && len(r.Codes) < r.Requested
}

// Generate stores up to MaxDirectGenerate codes one by one so that each
// failure is reported individually.
func (s *CodeService) Generate(ctx context.Context, campaignID string, quantity int, opts CodeOptions, expiresAt *time.Time) (*GenerateResult, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, newError(KindValidation, "MISSING_FIELDS", "missing required fields: campaignId", map[string]any{"missing": []string{"campaignId"}})
	}
	if quantity < 1 || quantity > MaxDirectGenerate {
		return nil, newError(KindLimit, "INVALID_QUANTITY",
			fmt.Sprintf("quantity must be between 1 and %d", MaxDirectGenerate),
			map[string]any{"quantity": quantity, "max": MaxDirectGenerate})
	}
	if _, err := s.liveCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	bulk, err := GenerateBulkCodes(quantity, opts)
	if err != nil {
		return nil, newError(KindValidation, "INVALID_OPTIONS", err.Error(), nil)
	}

	result := &GenerateResult{
		CampaignID: campaignID,
		BatchID:    NewBatchID(),
		Requested:  quantity,
		Codes:      make([]model.RedemptionCode, 0, bulk.Generated),
	}
	if bulk.Partial() {
		result.Errors = append(result.Errors, fmt.Sprintf("only %d of %d unique codes could be generated", bulk.Generated, quantity))
		metrics.RecordShortfall(bulk.Shortfall())
	}

	db := s.db.WithContext(ctx)
	for _, code := range bulk.Codes {
		rc := model.RedemptionCode{
			CampaignID: campaignID,
			UniqueCode: code,
			ExpiresAt:  expiresAt,
			BatchID:    &result.BatchID,
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rc)
		switch {
		case res.Error != nil:
			zap.L().Warn("failed to store generated code", zap.String("campaign_id", campaignID), zap.Error(res.Error))
			result.Errors = append(result.Errors, fmt.Sprintf("failed to store code %s: %v", code, res.Error))
		case res.RowsAffected == 0:
			result.Errors = append(result.Errors, fmt.Sprintf("code %s already exists", code))
		default:
			result.Codes = append(result.Codes, rc)
		}
	}

	if err := s.bumpTotalCodes(ctx, campaignID, len(result.Codes)); err != nil {
		return nil, err
	}
	metrics.RecordCodesGenerated("direct", len(result.Codes))
	return result, nil
}

type BulkGenerateResult struct {
	CampaignID  string    `json:"campaignId"`
	BatchID     string    `json:"batchId"`
	Requested   int       `json:"requested"`
	Generated   int       `json:"generated"`
	Inserted    int       `json:"inserted"`
	Partial     bool      `json:"partial"`
	Shortfall   int       `json:"shortfall"`
	Alphabet    string    `json:"alphabet"`
	Length      int       `json:"length"`
	Prefix      string    `json:"prefix"`
	Suffix      string    `json:"suffix"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// BulkGenerate produces up to MaxBulkCodes codes and inserts them in
// batches. Codes that collide with existing rows are skipped, so Inserted
// may be lower than Generated.
func (s *CodeService) BulkGenerate(ctx context.Context, campaignID string, count int, opts CodeOptions, expiresAt *time.Time) (*BulkGenerateResult, error) {
	if _, err := s.liveCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	bulk, err := GenerateBulkCodes(count, opts)
	if err != nil {
		return nil, newError(KindLimit, "INVALID_COUNT", err.Error(), map[string]any{"count": count, "max": MaxBulkCodes})
	}

	batchID := NewBatchID()
	rows := lo.Map(bulk.Codes, func(code string, _ int) model.RedemptionCode {
		return model.RedemptionCode{
			CampaignID: campaignID,
			UniqueCode: code,
			ExpiresAt:  expiresAt,
			BatchID:    &batchID,
		}
	})

	var inserted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return tx.Model(&model.Campaign{}).Where("id = ?", campaignID).
			Update("total_codes", gorm.Expr("total_codes + ?", inserted)).Error
	})
	if err != nil {
		return nil, ClassifyStoreError(err)
	}

	metrics.RecordCodesGenerated("bulk", int(inserted))
	metrics.RecordShortfall(bulk.Shortfall())
	if int(inserted) < bulk.Generated {
		zap.L().Warn("some generated codes already existed and were skipped",
			zap.String("campaign_id", campaignID),
			zap.String("batch_id", batchID),
			zap.Int("generated", bulk.Generated),
			zap.Int64("inserted", inserted),
		)
	}

	return &BulkGenerateResult{
		CampaignID:  campaignID,
		BatchID:     batchID,
		Requested:   bulk.Requested,
		Generated:   bulk.Generated,
		Inserted:    int(inserted),
		Partial:     bulk.Partial() || int(inserted) < bulk.Generated,
		Shortfall:   bulk.Requested - int(inserted),
		Alphabet:    bulk.Alphabet,
		Length:      bulk.Length,
		Prefix:      bulk.Prefix,
		Suffix:      bulk.Suffix,
		GeneratedAt: bulk.GeneratedAt,
	}, nil
}

func (s *CodeService) bumpTotalCodes(ctx context.Context, campaignID string, n int) error {
	if n == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&model.Campaign{}).Where("id = ?", campaignID).
		Update("total_codes", gorm.Expr("total_codes + ?", n)).Error; err != nil {
		return ClassifyStoreError(err)
	}
	return nil
}

// Delete soft-deletes an unused code. Redeemed codes are immutable.
func (s *CodeService) Delete(ctx context.Context, id string) (*model.RedemptionCode, error) {
	var code model.RedemptionCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND deleted_at IS NULL", id).First(&code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "CODE_NOT_FOUND", "redemption code not found", map[string]any{"id": id})
			}
			return err
		}
		if code.IsUsed {
			return newError(KindConflict, "CODE_ALREADY_REDEEMED", "redeemed codes cannot be deleted", map[string]any{"id": id, "redeemedAt": code.RedeemedAt})
		}
		if err := tx.Model(&model.RedemptionCode{}).Where("id = ? AND is_used = ?", id, false).
			Update("deleted_at", time.Now()).Error; err != nil {
			return err
		}
		return tx.Model(&model.Campaign{}).Where("id = ? AND total_codes > 0", code.CampaignID).
			Update("total_codes", gorm.Expr("total_codes - 1")).Error
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, ClassifyStoreError(err)
	}
	return &code, nil
}

type ShareLink struct {
	CodeID     string `json:"codeId"`
	UniqueCode string `json:"uniqueCode"`
	URL        string `json:"url"`
}

// ShareLinks renders redemption URLs for unused codes of a campaign.
func (s *CodeService) ShareLinks(ctx context.Context, campaignID, baseURL string, extra map[string]string, limit int) ([]ShareLink, error) {
	if _, err := s.liveCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var codes []model.RedemptionCode
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND is_used = ? AND deleted_at IS NULL", campaignID, false).
		Order("created_at ASC").Limit(limit).Find(&codes).Error; err != nil {
		return nil, ClassifyStoreError(err)
	}

	links := make([]ShareLink, 0, len(codes))
	for _, c := range codes {
		u, err := utils.BuildRedemptionURL(baseURL, campaignID, c.UniqueCode, extra)
		if err != nil {
			return nil, newError(KindValidation, "INVALID_BASE_URL", err.Error(), map[string]any{"baseUrl": baseURL})
		}
		links = append(links, ShareLink{CodeID: c.ID, UniqueCode: c.UniqueCode, URL: u})
	}
	return links, nil
}
