package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbpkg "h2all/internal/db"
	"h2all/internal/model"
)

// newTestDB opens a private in-memory database for the calling test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal("Failed to connect to test database:", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal("Failed to get sql.DB:", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatal("Failed to migrate test database:", err)
	}
	return db
}

func seedCampaign(t *testing.T, db *gorm.DB, id string, value int64, active bool, expiresAt *time.Time) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		BaseModel:       model.BaseModel{ID: id},
		Name:            "Campaign " + id,
		RedemptionValue: decimal.NewFromInt(value),
		IsActive:        active,
		ExpiresAt:       expiresAt,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatal("Failed to seed campaign:", err)
	}
	return c
}

func seedCode(t *testing.T, db *gorm.DB, campaignID, code string) *model.RedemptionCode {
	t.Helper()
	rc := &model.RedemptionCode{CampaignID: campaignID, UniqueCode: code}
	if err := db.Create(rc).Error; err != nil {
		t.Fatal("Failed to seed code:", err)
	}
	return rc
}
