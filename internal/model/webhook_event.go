package model

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEvent records processed gateway event ids for idempotent handling.
// The unique index on ExternalID is the dedupe gate: a redelivered event
// fails the insert and is acknowledged without reprocessing. A row with a
// ProcessingError and no ProcessedAt marks a failed attempt that a
// redelivery may take over.
type WebhookEvent struct {
	gorm.Model
	ExternalID      string     `json:"external_id" gorm:"uniqueIndex;not null"`
	EventType       string     `json:"event_type" gorm:"not null;index"`
	ProcessedAt     *time.Time `json:"processed_at"`
	ProcessingError string     `json:"processing_error" gorm:"type:text"`
}
