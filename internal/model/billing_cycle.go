package model

import (
	"time"

	"gorm.io/gorm"
)

type BillingCycleStatus string

const (
	BillingCycleStatusCompleted BillingCycleStatus = "completed"
	BillingCycleStatusFailed    BillingCycleStatus = "failed"
)

// BillingCycle is an append-only ledger row recording one resolved charge
// attempt period. Rows are immutable once written; corrections happen by
// appending, never by update.
type BillingCycle struct {
	gorm.Model
	SubscriptionID uint               `json:"subscription_id" gorm:"not null;index;uniqueIndex:ux_billing_cycles_period,priority:1"`
	PeriodStart    time.Time          `json:"period_start" gorm:"not null;uniqueIndex:ux_billing_cycles_period,priority:2"`
	PeriodEnd      time.Time          `json:"period_end" gorm:"not null;uniqueIndex:ux_billing_cycles_period,priority:3"`
	AmountBilled   int64              `json:"amount_billed" gorm:"not null"` // minor currency units
	Status         BillingCycleStatus `json:"status" gorm:"type:varchar(20);not null"`
	InvoiceRef     string             `json:"invoice_ref" gorm:"index"` // external gateway invoice id
}
