package billing

import (
	"context"
	"time"
)

// CreateSubscriptionParams carries everything needed to open a remote
// subscription. IdempotencyKey makes a timed-out create retry-safe: the
// gateway deduplicates on it instead of opening a second subscription.
type CreateSubscriptionParams struct {
	CustomerID     string
	PriceID        string
	Quantity       int
	TrialDays      int
	IdempotencyKey string
}

// RemoteSubscription is the gateway's view of a subscription after a
// create call, surfaced back so ids and period bounds can be persisted.
type RemoteSubscription struct {
	ID                 string
	Status             string
	TrialEnd           *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// RemoteInvoice is the slice of gateway invoice state the recovery
// coordinator needs when paying down open invoices.
type RemoteInvoice struct {
	ID        string
	AmountDue int64
	Status    string
}

// Gateway abstracts the payment processor. Every call is I/O bound with a
// bounded timeout; a timeout is a failure and must not mutate local state.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*RemoteSubscription, error)

	// UpdateSubscriptionPrice applies an immediate plan change, prorating
	// remotely from prorationDate.
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, quantity int, prorationDate time.Time) error

	// SchedulePlanChange arranges a plan change at the next period boundary
	// via a gateway schedule object and returns its id.
	SchedulePlanChange(ctx context.Context, subscriptionID, priceID string, quantity int, effectiveAt time.Time) (string, error)

	CancelSubscription(ctx context.Context, subscriptionID string) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error

	PauseCollection(ctx context.Context, subscriptionID string, resumesAt time.Time) error
	ResumeCollection(ctx context.Context, subscriptionID string) error

	UpdateBillingAnchor(ctx context.Context, subscriptionID string, anchor time.Time) error

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	PayInvoice(ctx context.Context, invoiceID string) error
	ListOpenInvoices(ctx context.Context, subscriptionID string) ([]RemoteInvoice, error)

	ReportUsage(ctx context.Context, subscriptionID string, quantity int64, at time.Time) error
}
