package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UsageRecord stores one metered-usage report for an add-on. Append-only;
// aggregation happens at billing time.
type UsageRecord struct {
	gorm.Model
	SubscriptionID uint              `json:"subscription_id" gorm:"not null;index"`
	Metric         string            `json:"metric" gorm:"not null;index"`
	Quantity       int64             `json:"quantity" gorm:"not null"`
	RecordedAt     time.Time         `json:"recorded_at" gorm:"not null;index"`
	Metadata       datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
}
