package model

import (
	"time"

	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// Invoice mirrors the gateway invoice state needed for reconciliation.
// Rows are upserted keyed by the external invoice id.
type Invoice struct {
	gorm.Model
	ExternalID     string        `json:"external_id" gorm:"uniqueIndex;not null"`
	SubscriptionID uint          `json:"subscription_id" gorm:"not null;index"`
	AmountDue      int64         `json:"amount_due" gorm:"not null"`
	AmountPaid     int64         `json:"amount_paid" gorm:"not null;default:0"`
	Status         InvoiceStatus `json:"status" gorm:"type:varchar(20);not null"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
}
