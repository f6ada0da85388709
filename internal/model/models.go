package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"h2all/internal/utils"
)

func init() {
	// Monetary values are emitted as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type BaseModel struct {
	ID        string     `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `gorm:"index" json:"deletedAt,omitempty"`
}

// BeforeCreate assigns a UUID when no ID was provided. Caller-supplied IDs
// (campaign slugs such as "camp-1") are kept as-is.
func (base *BaseModel) BeforeCreate(tx *gorm.DB) error {
	base.ID = strings.TrimSpace(base.ID)
	if base.ID == "" {
		base.ID = utils.NewID()
	}
	return nil
}

const (
	CampaignStatusActive   = "active"
	CampaignStatusInactive = "inactive"
	CampaignStatusExpired  = "expired"
)

// Campaign is a funded promotion. IsActive is the single source of truth for
// whether it accepts redemptions; Status is derived on read.
type Campaign struct {
	BaseModel
	Name                 string            `gorm:"not null" json:"name"`
	Description          *string           `json:"description,omitempty"`
	RedemptionValue      decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"redemptionValue"`
	IsActive             bool              `gorm:"not null;index" json:"isActive"`
	ExpiresAt            *time.Time        `gorm:"index" json:"expiresAt,omitempty"`
	TotalCodes           int               `gorm:"not null;default:0" json:"totalCodes"`
	TotalRedemptions     int               `gorm:"not null;default:0" json:"totalRedemptions"`
	TotalRedemptionValue decimal.Decimal   `gorm:"type:decimal(20,2);not null;default:0" json:"totalRedemptionValue"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty"`

	Status string `gorm:"-" json:"status"`
}

// IsExpired reports whether the campaign expiry has passed at now.
func (c *Campaign) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// DeriveStatus fills the read-only Status field.
func (c *Campaign) DeriveStatus(now time.Time) {
	switch {
	case !c.IsActive:
		c.Status = CampaignStatusInactive
	case c.IsExpired(now):
		c.Status = CampaignStatusExpired
	default:
		c.Status = CampaignStatusActive
	}
}

func (c *Campaign) AfterFind(tx *gorm.DB) error {
	c.DeriveStatus(time.Now())
	return nil
}

type RedemptionCode struct {
	BaseModel
	CampaignID      string           `gorm:"index;not null" json:"campaignId"`
	UniqueCode      string           `gorm:"not null;uniqueIndex" json:"uniqueCode"`
	IsUsed          bool             `gorm:"not null;default:false;index" json:"isUsed"`
	RedeemedAt      *time.Time       `json:"redeemedAt,omitempty"`
	UserID          *string          `gorm:"index" json:"userId,omitempty"`
	UserEmail       *string          `json:"userEmail,omitempty"`
	RedemptionValue *decimal.Decimal `gorm:"type:decimal(20,2)" json:"redemptionValue,omitempty"`
	ExpiresAt       *time.Time       `gorm:"index" json:"expiresAt,omitempty"`
	BatchID         *string          `gorm:"index" json:"batchId,omitempty"`

	// Tracking captured at redemption time.
	RedemptionSource   *string           `json:"redemptionSource,omitempty"`
	RedemptionDevice   *string           `json:"redemptionDevice,omitempty"`
	RedemptionLocation *string           `json:"redemptionLocation,omitempty"`
	RedemptionURL      *string           `json:"redemptionUrl,omitempty"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
}

// User is keyed by utils.UserKeyFromEmail, so it does not embed BaseModel.
type User struct {
	ID                   string          `gorm:"primaryKey;type:text" json:"id"`
	Email                string          `gorm:"not null;uniqueIndex" json:"email"`
	Balance              decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	TotalRedemptions     int             `gorm:"not null;default:0" json:"totalRedemptions"`
	TotalRedemptionValue decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"totalRedemptionValue"`
	IsActive             bool            `gorm:"not null" json:"isActive"`
	IsAdmin              bool            `gorm:"not null;default:false" json:"isAdmin"`
	LastRedemptionAt     *time.Time      `json:"lastRedemptionAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// OperationLog records administrator operations.
type OperationLog struct {
	BaseModel
	AdminID    string            `gorm:"index;not null" json:"adminId"`
	Action     string            `gorm:"not null;index" json:"action"` // e.g., campaign_create, codes_generate
	ObjectType string            `gorm:"not null;index" json:"objectType"`
	ObjectID   string            `gorm:"not null;index" json:"objectId"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
}
