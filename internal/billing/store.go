package billing

import (
	"context"
	"time"

	"fundpage_backend/internal/model"
)

// SubscriptionStore is the persistence surface for the subscription root
// entity. UpdateLocked must perform a conditional write on the row's
// lock version and return ErrConflict when another writer got there first.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *model.Subscription) error
	GetByID(ctx context.Context, id uint) (*model.Subscription, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*model.Subscription, error)

	// GetCurrentForUserCampaign returns the single non-canceled subscription
	// for a (user, campaign) pair, or ErrNotFound.
	GetCurrentForUserCampaign(ctx context.Context, userID, campaignID uint) (*model.Subscription, error)

	UpdateLocked(ctx context.Context, sub *model.Subscription) error

	// ListPastDueExpiring returns past_due subscriptions whose grace window
	// ends after now and on or before deadline.
	ListPastDueExpiring(ctx context.Context, now, deadline time.Time) ([]model.Subscription, error)

	// ListPastDueExpired returns past_due subscriptions whose grace window
	// ended before now.
	ListPastDueExpired(ctx context.Context, now time.Time) ([]model.Subscription, error)
}

// CycleStore appends to the billing-cycle ledger. Append returns
// ErrConflict when the new period overlaps an existing cycle for the same
// subscription; the check and insert run in one transaction.
type CycleStore interface {
	Append(ctx context.Context, cycle *model.BillingCycle) error
	ListBySubscription(ctx context.Context, subscriptionID uint) ([]model.BillingCycle, error)
}

// InvoiceStore mirrors gateway invoices, upserting by external id.
type InvoiceStore interface {
	Upsert(ctx context.Context, inv *model.Invoice) error
	GetByExternalID(ctx context.Context, externalID string) (*model.Invoice, error)
}

// UsageStore appends metered usage reports.
type UsageStore interface {
	Append(ctx context.Context, rec *model.UsageRecord) error
	Sum(ctx context.Context, subscriptionID uint, metric string, from, to time.Time) (int64, error)
}

// EventStore is the webhook idempotence gate. Claim inserts the event id
// and returns ErrConflict when the id was already claimed.
type EventStore interface {
	Claim(ctx context.Context, externalID, eventType string) error
	MarkProcessed(ctx context.Context, externalID string, processingErr error) error
}

// NoticeStore records sent dunning notices; Record returns ErrConflict
// when a notice of the same kind was already sent in the same window.
type NoticeStore interface {
	Record(ctx context.Context, subscriptionID uint, kind model.DunningNoticeKind, day time.Time) error
}

// UserStore resolves payers and persists their gateway customer handle.
type UserStore interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
	SetGatewayCustomerID(ctx context.Context, id uint, customerID string) error
}

// TierStore resolves campaign tiers.
type TierStore interface {
	GetByID(ctx context.Context, id uint) (*model.CampaignTier, error)
}
