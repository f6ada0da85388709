package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"h2all/internal/metrics"
	"h2all/internal/model"
	"h2all/internal/utils"
)

// RedemptionService exchanges unused codes for campaign value credited to a
// user balance.
type RedemptionService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRedemptionService(db *gorm.DB) *RedemptionService {
	return &RedemptionService{db: db, now: time.Now}
}

type RedeemRequest struct {
	CampaignID    string         `json:"campaignId"`
	Code          string         `json:"code"`
	UserEmail     string         `json:"userEmail"`
	RedemptionURL string         `json:"redemptionUrl,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// UserAgent is filled from the request, not the body.
	UserAgent string `json:"-"`
}

type Tracking struct {
	Source   string `json:"source,omitempty"`
	Device   string `json:"device,omitempty"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url,omitempty"`
}

type RedemptionResult struct {
	CodeID          string          `json:"codeId"`
	UniqueCode      string          `json:"uniqueCode"`
	CampaignID      string          `json:"campaignId"`
	CampaignName    string          `json:"campaignName"`
	RedemptionValue decimal.Decimal `json:"redemptionValue"`
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	RedeemedAt      time.Time       `json:"redeemedAt"`
	Tracking        Tracking        `json:"tracking"`
	Campaign        model.Campaign  `json:"campaign"`
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return strings.TrimSpace(s)
}

// resolveTracking prefers utm_source from the redemption URL over the
// metadata source, and the metadata device over the user agent.
func resolveTracking(req RedeemRequest) Tracking {
	t := Tracking{
		Source:   metaString(req.Metadata, "source"),
		Device:   metaString(req.Metadata, "device"),
		Location: metaString(req.Metadata, "location"),
		URL:      strings.TrimSpace(req.RedemptionURL),
	}
	if t.URL != "" {
		parsed := utils.ParseCampaignURL(t.URL, utils.WithoutFormatValidation())
		if parsed.UTMParams.Source != "" {
			t.Source = parsed.UTMParams.Source
		}
	}
	if t.Device == "" {
		t.Device = req.UserAgent
	}
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func alreadyRedeemed(code *model.RedemptionCode) *Error {
	details := map[string]any{}
	if code.RedeemedAt != nil {
		details["redeemedAt"] = code.RedeemedAt
	}
	if code.UserEmail != nil {
		details["redeemedBy"] = *code.UserEmail
	}
	return &Error{
		Kind:    KindState,
		Code:    "CODE_ALREADY_REDEEMED",
		Message: "this code has already been redeemed",
		Details: details,
		Err:     ErrAlreadyRedeemed,
	}
}

func checkCampaignRedeemable(c *model.Campaign, now time.Time) *Error {
	if !c.IsActive {
		return newError(KindState, "CAMPAIGN_INACTIVE", "campaign is not active", map[string]any{"campaignId": c.ID})
	}
	if c.IsExpired(now) {
		return newError(KindState, "CAMPAIGN_EXPIRED", "campaign has expired", map[string]any{"campaignId": c.ID, "expiresAt": c.ExpiresAt})
	}
	return nil
}

// Redeem validates the request, then marks the code used, credits the user
// and bumps the campaign counters in one transaction. Of two concurrent
// redemptions of the same code exactly one succeeds; the other gets
// CODE_ALREADY_REDEEMED.
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemRequest) (result *RedemptionResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = AsError(err).Code
		}
		metrics.RecordRedemption(outcome, start)
	}()

	req.CampaignID = strings.TrimSpace(req.CampaignID)
	req.Code = strings.TrimSpace(req.Code)
	req.UserEmail = strings.TrimSpace(req.UserEmail)

	missing := lo.Compact([]string{
		lo.Ternary(req.CampaignID == "", "campaignId", ""),
		lo.Ternary(req.Code == "", "code", ""),
		lo.Ternary(req.UserEmail == "", "userEmail", ""),
	})
	if len(missing) > 0 {
		return nil, newError(KindValidation, "MISSING_FIELDS",
			"missing required fields: "+strings.Join(missing, ", "),
			map[string]any{"missing": missing})
	}
	if !utils.IsValidEmail(req.UserEmail) {
		return nil, newError(KindValidation, "INVALID_EMAIL", "invalid email address", map[string]any{"userEmail": req.UserEmail})
	}

	db := s.db.WithContext(ctx)
	now := s.now()

	var code model.RedemptionCode
	if err := db.Where("unique_code = ? AND campaign_id = ? AND deleted_at IS NULL", req.Code, req.CampaignID).
		First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "CODE_NOT_FOUND", "redemption code not found", map[string]any{"code": req.Code, "campaignId": req.CampaignID})
		}
		return nil, ClassifyStoreError(err)
	}
	if code.IsUsed {
		return nil, alreadyRedeemed(&code)
	}
	if code.ExpiresAt != nil && now.After(*code.ExpiresAt) {
		return nil, newError(KindState, "CODE_EXPIRED", "redemption code has expired", map[string]any{"expiresAt": code.ExpiresAt})
	}

	var campaign model.Campaign
	if err := db.Where("id = ? AND deleted_at IS NULL", req.CampaignID).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "CAMPAIGN_NOT_FOUND", "campaign not found", map[string]any{"campaignId": req.CampaignID})
		}
		return nil, ClassifyStoreError(err)
	}
	if e := checkCampaignRedeemable(&campaign, now); e != nil {
		return nil, e
	}

	email := utils.NormalizeEmail(req.UserEmail)
	userID := utils.UserKeyFromEmail(email)
	tracking := resolveTracking(req)

	var user model.User
	err = db.Transaction(func(tx *gorm.DB) error {
		// Campaign first, then code, then user: every writer takes locks in
		// this order.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND deleted_at IS NULL", campaign.ID).First(&campaign).Error; err != nil {
			return err
		}
		if e := checkCampaignRedeemable(&campaign, now); e != nil {
			return e
		}
		value := campaign.RedemptionValue

		updates := map[string]any{
			"is_used":             true,
			"redeemed_at":         now,
			"user_id":             userID,
			"user_email":          email,
			"redemption_value":    value,
			"redemption_source":   optional(tracking.Source),
			"redemption_device":   optional(tracking.Device),
			"redemption_location": optional(tracking.Location),
			"redemption_url":      optional(tracking.URL),
		}
		if len(req.Metadata) > 0 {
			updates["metadata"] = datatypes.JSONMap(req.Metadata)
		}
		res := tx.Model(&model.RedemptionCode{}).
			Where("id = ? AND is_used = ?", code.ID, false).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current model.RedemptionCode
			if err := tx.First(&current, "id = ?", code.ID).Error; err != nil {
				return alreadyRedeemed(&code)
			}
			return alreadyRedeemed(&current)
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.User{
			ID:       userID,
			Email:    email,
			IsActive: true,
		}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			return err
		}
		user.Balance = user.Balance.Add(value)
		user.TotalRedemptions++
		user.TotalRedemptionValue = user.TotalRedemptionValue.Add(value)
		user.LastRedemptionAt = &now
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
			"balance":                user.Balance,
			"total_redemptions":      user.TotalRedemptions,
			"total_redemption_value": user.TotalRedemptionValue,
			"last_redemption_at":     now,
		}).Error; err != nil {
			return err
		}

		campaign.TotalRedemptions++
		campaign.TotalRedemptionValue = campaign.TotalRedemptionValue.Add(value)
		return tx.Model(&model.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]any{
			"total_redemptions":      campaign.TotalRedemptions,
			"total_redemption_value": campaign.TotalRedemptionValue,
		}).Error
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		zap.L().Error("redemption transaction failed",
			zap.String("code_id", code.ID),
			zap.String("campaign_id", campaign.ID),
			zap.Error(err),
		)
		return nil, ClassifyStoreError(err)
	}

	zap.L().Info("code redeemed",
		zap.String("code_id", code.ID),
		zap.String("campaign_id", campaign.ID),
		zap.String("user_id", userID),
		zap.String("value", campaign.RedemptionValue.String()),
		zap.String("source", tracking.Source),
	)

	campaign.DeriveStatus(now)
	return &RedemptionResult{
		CodeID:          code.ID,
		UniqueCode:      code.UniqueCode,
		CampaignID:      campaign.ID,
		CampaignName:    campaign.Name,
		RedemptionValue: campaign.RedemptionValue,
		UserID:          userID,
		UserEmail:       email,
		NewBalance:      user.Balance,
		RedeemedAt:      now,
		Tracking:        tracking,
		Campaign:        campaign,
	}, nil
}

// RedeemByCode redeems a code known only by its unique value; the campaign
// comes from the code row. userID, when given, must be the key derived from
// userEmail; with no email it is decoded back into one.
func (s *RedemptionService) RedeemByCode(ctx context.Context, uniqueCode, userID, userEmail string) (*RedemptionResult, error) {
	uniqueCode = strings.TrimSpace(uniqueCode)
	userID = strings.TrimSpace(userID)
	userEmail = strings.TrimSpace(userEmail)

	missing := lo.Compact([]string{
		lo.Ternary(uniqueCode == "", "uniqueCode", ""),
		lo.Ternary(userID == "" && userEmail == "", "userEmail", ""),
	})
	if len(missing) > 0 {
		return nil, newError(KindValidation, "MISSING_FIELDS",
			"missing required fields: "+strings.Join(missing, ", "),
			map[string]any{"missing": missing})
	}

	if userEmail == "" {
		email, err := utils.EmailFromUserKey(userID)
		if err != nil {
			return nil, newError(KindValidation, "INVALID_USER_ID", "userId does not identify a user", map[string]any{"userId": userID})
		}
		userEmail = email
	} else if userID != "" && userID != utils.UserKeyFromEmail(userEmail) {
		return nil, newError(KindValidation, "USER_MISMATCH", "userId does not match userEmail", map[string]any{"userId": userID})
	}

	var code model.RedemptionCode
	if err := s.db.WithContext(ctx).Where("unique_code = ? AND deleted_at IS NULL", uniqueCode).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "CODE_NOT_FOUND", "redemption code not found", map[string]any{"code": uniqueCode})
		}
		return nil, ClassifyStoreError(err)
	}

	return s.Redeem(ctx, RedeemRequest{
		CampaignID: code.CampaignID,
		Code:       uniqueCode,
		UserEmail:  userEmail,
	})
}
