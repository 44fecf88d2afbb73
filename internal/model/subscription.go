package model

import (
	"time"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is the billing root entity. Rows are never deleted;
// cancellation is a terminal status.
type Subscription struct {
	gorm.Model
	UserID     uint `json:"user_id" gorm:"not null;index"`
	CampaignID uint `json:"campaign_id" gorm:"not null;index"`
	TierID     uint `json:"tier_id" gorm:"not null"`
	Quantity   int  `json:"quantity" gorm:"not null;default:1"`

	Status            SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`

	// Gateway handles are empty until the first remote call succeeds.
	GatewaySubscriptionID string `json:"gateway_subscription_id" gorm:"index"`
	GatewayPriceID        string `json:"gateway_price_id"`
	GatewayScheduleID     string `json:"gateway_schedule_id"`

	TrialStart *time.Time `json:"trial_start"`
	TrialEnd   *time.Time `json:"trial_end"`

	CurrentPeriodStart time.Time `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" gorm:"not null"`

	// Set if and only if status is past_due with an open grace window.
	GracePeriodEnd *time.Time `json:"grace_period_end" gorm:"index"`

	PausedAt  *time.Time `json:"paused_at"`
	ResumesAt *time.Time `json:"resumes_at"`
	ResumedAt *time.Time `json:"resumed_at"`

	CanceledAt           *time.Time `json:"canceled_at"`
	CancellationReason   string     `json:"cancellation_reason"`
	CancellationFeedback string     `json:"cancellation_feedback"`

	// Optimistic concurrency token; bumped on every conditional update.
	LockVersion int `json:"-" gorm:"not null;default:0"`

	User     User         `json:"-" gorm:"foreignKey:UserID"`
	Campaign Campaign     `json:"-" gorm:"foreignKey:CampaignID"`
	Tier     CampaignTier `json:"-" gorm:"foreignKey:TierID"`

	BillingCycles []BillingCycle `json:"-"`
	Invoices      []Invoice      `json:"-"`
	UsageRecords  []UsageRecord  `json:"-"`
}

func (s *Subscription) IsTrialing() bool { return s.Status == SubscriptionStatusTrialing }
func (s *Subscription) IsActive() bool   { return s.Status == SubscriptionStatusActive }
func (s *Subscription) IsPastDue() bool  { return s.Status == SubscriptionStatusPastDue }
func (s *Subscription) IsPaused() bool   { return s.Status == SubscriptionStatusPaused }
func (s *Subscription) IsCanceled() bool { return s.Status == SubscriptionStatusCanceled }

// InGracePeriod reports whether a past_due subscription still has a live
// grace window at the given instant.
func (s *Subscription) InGracePeriod(now time.Time) bool {
	return s.Status == SubscriptionStatusPastDue &&
		s.GracePeriodEnd != nil &&
		now.Before(*s.GracePeriodEnd)
}
