package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"h2all/internal/model"
	"h2all/internal/utils"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func userNotFound(details map[string]any) *Error {
	return newError(KindNotFound, "USER_NOT_FOUND", "user not found", details)
}

func (s *UserService) List(ctx context.Context, search string, page, size int) ([]model.User, int64, error) {
	page, size = normalizePage(page, size)
	q := s.db.WithContext(ctx).Model(&model.User{})
	if search = strings.TrimSpace(search); search != "" {
		q = q.Where("email LIKE ?", "%"+utils.NormalizeEmail(search)+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	var items []model.User
	if err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&items).Error; err != nil {
		return nil, 0, ClassifyStoreError(err)
	}
	return items, total, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userNotFound(map[string]any{"userId": id})
		}
		return nil, ClassifyStoreError(err)
	}
	return &u, nil
}

// GetByEmail resolves through the email-derived key, so lookups are
// case-insensitive.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if !utils.IsValidEmail(email) {
		return nil, newError(KindValidation, "INVALID_EMAIL", "invalid email address", map[string]any{"email": email})
	}
	u, err := s.Get(ctx, utils.UserKeyFromEmail(email))
	if err != nil {
		if se := AsError(err); se.Kind == KindNotFound {
			return nil, userNotFound(map[string]any{"email": utils.NormalizeEmail(email)})
		}
		return nil, err
	}
	return u, nil
}

// Redemptions lists the codes a user has redeemed, newest first.
func (s *UserService) Redemptions(ctx context.Context, id string, limit int) ([]model.RedemptionCode, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var codes []model.RedemptionCode
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_used = ?", id, true).
		Order("redeemed_at DESC").Limit(limit).Find(&codes).Error; err != nil {
		return nil, ClassifyStoreError(err)
	}
	return codes, nil
}
