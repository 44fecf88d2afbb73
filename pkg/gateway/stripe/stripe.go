// Package stripegw implements the billing payment gateway on Stripe.
package stripegw

import (
	"context"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/invoice"
	"github.com/stripe/stripe-go/v74/paymentmethod"
	"github.com/stripe/stripe-go/v74/subscription"
	"github.com/stripe/stripe-go/v74/subscriptionschedule"
	"github.com/stripe/stripe-go/v74/usagerecord"

	"fundpage_backend/internal/billing"
)

// Gateway talks to Stripe. All calls run with a bounded timeout; a timed
// out call is a failure and callers treat it as such.
type Gateway struct{}

var _ billing.Gateway = (*Gateway)(nil)

// New configures the Stripe client with the API key and a bounded HTTP
// timeout, then returns a Gateway.
func New(apiKey string, timeout time.Duration) *Gateway {
	stripe.Key = apiKey
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
	stripe.SetBackend(stripe.APIBackend, backend)
	return &Gateway{}
}

func (g *Gateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *Gateway) CreateSubscription(ctx context.Context, p billing.CreateSubscriptionParams) (*billing.RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(int64(p.Quantity)),
			},
		},
	}
	params.Context = ctx
	if p.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}

	remote := &billing.RemoteSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		remote.TrialEnd = &trialEnd
	}
	return remote, nil
}

func (g *Gateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, quantity int, prorationDate time.Time) error {
	current, err := g.getSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if len(current.Items.Data) == 0 {
		return fmt.Errorf("stripe subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(current.Items.Data[0].ID),
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(int64(quantity)),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		ProrationDate:     stripe.Int64(prorationDate.Unix()),
	}
	params.Context = ctx

	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update stripe subscription price: %w", err)
	}
	return nil
}

func (g *Gateway) SchedulePlanChange(ctx context.Context, subscriptionID, priceID string, quantity int, effectiveAt time.Time) (string, error) {
	current, err := g.getSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if len(current.Items.Data) == 0 {
		return "", fmt.Errorf("stripe subscription %s has no items", subscriptionID)
	}

	createParams := &stripe.SubscriptionScheduleParams{
		FromSubscription: stripe.String(subscriptionID),
	}
	createParams.Context = ctx
	sched, err := subscriptionschedule.New(createParams)
	if err != nil {
		return "", fmt.Errorf("create stripe schedule: %w", err)
	}

	updateParams := &stripe.SubscriptionScheduleParams{
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{
						Price:    stripe.String(current.Items.Data[0].Price.ID),
						Quantity: stripe.Int64(current.Items.Data[0].Quantity),
					},
				},
				StartDate: stripe.Int64(current.CurrentPeriodStart),
				EndDate:   stripe.Int64(effectiveAt.Unix()),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{
						Price:    stripe.String(priceID),
						Quantity: stripe.Int64(int64(quantity)),
					},
				},
				StartDate: stripe.Int64(effectiveAt.Unix()),
			},
		},
	}
	updateParams.Context = ctx

	if _, err := subscriptionschedule.Update(sched.ID, updateParams); err != nil {
		return "", fmt.Errorf("update stripe schedule phases: %w", err)
	}
	return sched.ID, nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel stripe subscription: %w", err)
	}
	return nil
}

func (g *Gateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("set cancel_at_period_end: %w", err)
	}
	return nil
}

func (g *Gateway) PauseCollection(ctx context.Context, subscriptionID string, resumesAt time.Time) error {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior:  stripe.String(string(stripe.SubscriptionPauseCollectionBehaviorVoid)),
			ResumesAt: stripe.Int64(resumesAt.Unix()),
		},
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("pause stripe collection: %w", err)
	}
	return nil
}

func (g *Gateway) ResumeCollection(ctx context.Context, subscriptionID string) error {
	// Clearing pause_collection requires sending an empty value.
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("resume stripe collection: %w", err)
	}
	return nil
}

func (g *Gateway) UpdateBillingAnchor(ctx context.Context, subscriptionID string, anchor time.Time) error {
	// Setting trial_end moves the billing cycle anchor to that instant
	// without charging in between.
	params := &stripe.SubscriptionParams{
		TrialEnd:          stripe.Int64(anchor.Unix()),
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update billing anchor: %w", err)
	}
	return nil
}

func (g *Gateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if _, err := paymentmethod.Attach(paymentMethodID, params); err != nil {
		return fmt.Errorf("attach payment method: %w", err)
	}
	return nil
}

func (g *Gateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	if _, err := customer.Update(customerID, params); err != nil {
		return fmt.Errorf("set default payment method: %w", err)
	}
	return nil
}

func (g *Gateway) PayInvoice(ctx context.Context, invoiceID string) error {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx
	if _, err := invoice.Pay(invoiceID, params); err != nil {
		return fmt.Errorf("pay stripe invoice: %w", err)
	}
	return nil
}

func (g *Gateway) ListOpenInvoices(ctx context.Context, subscriptionID string) ([]billing.RemoteInvoice, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	params.Context = ctx

	var open []billing.RemoteInvoice
	iter := invoice.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		open = append(open, billing.RemoteInvoice{
			ID:        inv.ID,
			AmountDue: inv.AmountDue,
			Status:    string(inv.Status),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list open invoices: %w", err)
	}
	return open, nil
}

func (g *Gateway) ReportUsage(ctx context.Context, subscriptionID string, quantity int64, at time.Time) error {
	current, err := g.getSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if len(current.Items.Data) == 0 {
		return fmt.Errorf("stripe subscription %s has no items", subscriptionID)
	}

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(current.Items.Data[0].ID),
		Quantity:         stripe.Int64(quantity),
		Timestamp:        stripe.Int64(at.Unix()),
	}
	params.Context = ctx
	if _, err := usagerecord.New(params); err != nil {
		return fmt.Errorf("report usage: %w", err)
	}
	return nil
}

func (g *Gateway) getSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription: %w", err)
	}
	return sub, nil
}
