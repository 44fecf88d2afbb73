package billing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fundpage_backend/internal/model"
)

// Access reasons returned by CheckServiceAccess.
const (
	AccessReasonActive             = "active"
	AccessReasonGracePeriod        = "grace_period"
	AccessReasonGracePeriodExpired = "grace_period_expired"
	AccessReasonPaused             = "paused"
	AccessReasonCanceled           = "canceled"
	AccessReasonNoSubscription     = "no_subscription"
)

// AccessResult is the outcome of a service-access check.
type AccessResult struct {
	HasAccess bool   `json:"has_access"`
	Reason    string `json:"reason"`
}

// InvoicePayResult reports one open invoice's payment attempt during a
// payment-method update. Partial failures never hide successes.
type InvoicePayResult struct {
	InvoiceID string `json:"invoice_id"`
	AmountDue int64  `json:"amount_due"`
	Paid      bool   `json:"paid"`
	Err       error  `json:"-"`
}

// Recovery coordinates grace periods, dunning warnings and payment-method
// driven recovery. Status changes themselves go through the Lifecycle;
// recovery only decides when they happen.
type Recovery struct {
	subs          SubscriptionStore
	notices       NoticeStore
	gateway       Gateway
	lifecycle     *Lifecycle
	notifier      Notifier
	warningWindow time.Duration
	log           *zap.Logger
	now           func() time.Time
}

func NewRecovery(subs SubscriptionStore, notices NoticeStore, gateway Gateway, lifecycle *Lifecycle, notifier Notifier, warningWindow time.Duration, log *zap.Logger) *Recovery {
	return &Recovery{
		subs:          subs,
		notices:       notices,
		gateway:       gateway,
		lifecycle:     lifecycle,
		notifier:      notifier,
		warningWindow: warningWindow,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; tests pin it to a fixed instant.
func (r *Recovery) WithClock(now func() time.Time) *Recovery {
	r.now = now
	return r
}

// EnterGracePeriod puts a subscription into past_due with a grace window
// of graceDays. Idempotent: a repeat call extends but never shortens an
// open window, unless force is set.
func (r *Recovery) EnterGracePeriod(ctx context.Context, subscriptionID uint, graceDays int, force bool) (*model.Subscription, error) {
	if graceDays < 1 {
		return nil, validationf("grace days must be >= 1, got %d", graceDays)
	}
	sub, err := r.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case model.SubscriptionStatusActive, model.SubscriptionStatusTrialing, model.SubscriptionStatusPastDue:
	default:
		return nil, conflictf("cannot enter grace period from status %s", sub.Status)
	}

	graceEnd := r.now().AddDate(0, 0, graceDays)
	if !force && sub.GracePeriodEnd != nil && sub.GracePeriodEnd.After(graceEnd) {
		graceEnd = *sub.GracePeriodEnd
	}
	sub.Status = model.SubscriptionStatusPastDue
	sub.GracePeriodEnd = &graceEnd
	if err := r.subs.UpdateLocked(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CheckServiceAccess decides whether a payer currently has access to a
// campaign's backer benefits. Expired grace windows are discovered lazily
// here as well as by the background sweep; both paths cancel through the
// same lifecycle transition.
func (r *Recovery) CheckServiceAccess(ctx context.Context, userID, campaignID uint) (*AccessResult, error) {
	sub, err := r.subs.GetCurrentForUserCampaign(ctx, userID, campaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &AccessResult{HasAccess: false, Reason: AccessReasonNoSubscription}, nil
		}
		return nil, err
	}

	switch sub.Status {
	case model.SubscriptionStatusActive, model.SubscriptionStatusTrialing:
		return &AccessResult{HasAccess: true, Reason: AccessReasonActive}, nil

	case model.SubscriptionStatusPaused:
		return &AccessResult{HasAccess: false, Reason: AccessReasonPaused}, nil

	case model.SubscriptionStatusPastDue:
		if sub.InGracePeriod(r.now()) {
			return &AccessResult{HasAccess: true, Reason: AccessReasonGracePeriod}, nil
		}
		if err := r.lifecycle.ExpireGrace(ctx, sub); err != nil {
			// A concurrent sweep may have canceled already; the access
			// answer is the same either way.
			if !errors.Is(err, ErrConflict) {
				r.log.Error("lazy grace expiry failed",
					zap.Uint("subscription_id", sub.ID),
					zap.Error(err))
			}
		}
		return &AccessResult{HasAccess: false, Reason: AccessReasonGracePeriodExpired}, nil

	default:
		return &AccessResult{HasAccess: false, Reason: AccessReasonCanceled}, nil
	}
}

// UpdatePaymentMethod attaches a new payment method, makes it the default
// and attempts to pay every open invoice on the subscription. Results are
// collected per invoice. Subscription status is not touched here; the
// gateway's success/failure webhooks drive any transition.
func (r *Recovery) UpdatePaymentMethod(ctx context.Context, subscriptionID uint, paymentMethodID string) ([]InvoicePayResult, error) {
	if paymentMethodID == "" {
		return nil, validationf("payment method id is required")
	}
	sub, err := r.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	customerID := sub.User.GatewayCustomerID
	if customerID == "" {
		return nil, notFoundf("subscription %d has no gateway customer", sub.ID)
	}

	if err := r.gateway.AttachPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, gatewayf(err, "attach payment method to customer %s", customerID)
	}
	if err := r.gateway.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, gatewayf(err, "set default payment method for customer %s", customerID)
	}

	open, err := r.gateway.ListOpenInvoices(ctx, sub.GatewaySubscriptionID)
	if err != nil {
		return nil, gatewayf(err, "list open invoices for subscription %d", sub.ID)
	}

	results := make([]InvoicePayResult, 0, len(open))
	for _, inv := range open {
		result := InvoicePayResult{InvoiceID: inv.ID, AmountDue: inv.AmountDue}
		if err := r.gateway.PayInvoice(ctx, inv.ID); err != nil {
			result.Err = gatewayf(err, "pay invoice %s", inv.ID)
			r.log.Warn("open invoice payment failed",
				zap.Uint("subscription_id", sub.ID),
				zap.String("invoice_id", inv.ID),
				zap.Error(err))
		} else {
			result.Paid = true
		}
		results = append(results, result)
	}

	if err := r.notifier.Send(ctx, sub.User.Email, TemplatePaymentMethodUpdated, map[string]any{
		"open_invoices": len(open),
	}); err != nil {
		r.log.Warn("notification send failed", zap.Error(err))
	}
	return results, nil
}

// SendGracePeriodWarnings finds past_due subscriptions whose grace window
// closes within the warning window and sends one warning each. The notice
// ledger's unique (subscription, kind, day) index guarantees a warning is
// sent at most once per window even across overlapping sweeps.
func (r *Recovery) SendGracePeriodWarnings(ctx context.Context) (int, error) {
	now := r.now()
	subs, err := r.subs.ListPastDueExpiring(ctx, now, now.Add(r.warningWindow))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range subs {
		if err := r.notices.Record(ctx, sub.ID, model.DunningNoticeGraceWarning, now); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return sent, err
		}
		if err := r.notifier.Send(ctx, sub.User.Email, TemplateGraceWarning, map[string]any{
			"grace_period_end": sub.GracePeriodEnd,
		}); err != nil {
			r.log.Warn("grace warning send failed",
				zap.Uint("subscription_id", sub.ID),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// ExpireLapsedGracePeriods cancels every past_due subscription whose grace
// window has already closed. Failures are logged per subscription so one
// bad row cannot stall the sweep.
func (r *Recovery) ExpireLapsedGracePeriods(ctx context.Context) (int, error) {
	subs, err := r.subs.ListPastDueExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range subs {
		if err := r.lifecycle.ExpireGrace(ctx, &subs[i]); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			r.log.Error("grace expiry failed",
				zap.Uint("subscription_id", subs[i].ID),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
