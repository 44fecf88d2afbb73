// Package testutil provides the shared test database, fixtures and fakes.
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fundpage_backend/internal/model"
)

// NewTestDB opens an isolated in-memory database with the full schema.
// TranslateError is on so duplicate-key violations surface the same way
// they do against postgres.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = db.AutoMigrate(
		&model.User{},
		&model.Campaign{},
		&model.CampaignTier{},
		&model.Subscription{},
		&model.BillingCycle{},
		&model.Invoice{},
		&model.UsageRecord{},
		&model.WebhookEvent{},
		&model.DunningNotice{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}
