package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fundpage_backend/internal/model"
)

// PlanChangeEffective selects when an upgrade/downgrade takes effect.
type PlanChangeEffective string

const (
	EffectiveImmediate PlanChangeEffective = "immediate"
	EffectivePeriodEnd PlanChangeEffective = "period_end"
)

// PlanChangeResult reports what a plan change did. ProrationAmount is the
// signed partial-period charge (positive) or credit (negative) in minor
// units; zero for period-end changes.
type PlanChangeResult struct {
	Subscription    *model.Subscription `json:"subscription"`
	ProrationAmount int64               `json:"proration_amount"`
	ScheduleID      string              `json:"schedule_id,omitempty"`
}

// Lifecycle owns every subscription status transition. Controllers, the
// webhook processor and the recovery coordinator all mutate subscriptions
// through here; nothing else writes the status column.
//
// Ordering rule: the remote gateway call happens first, the local write
// second. A failed remote call leaves local state untouched. The one
// exception is scheduled intent (cancel at period end, scheduled plan
// change), which is recorded locally up front because it does not change
// current billing.
type Lifecycle struct {
	subs     SubscriptionStore
	cycles   CycleStore
	usage    UsageStore
	users    UserStore
	tiers    TierStore
	gateway  Gateway
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewLifecycle(subs SubscriptionStore, cycles CycleStore, usage UsageStore, users UserStore, tiers TierStore, gateway Gateway, notifier Notifier, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		subs:     subs,
		cycles:   cycles,
		usage:    usage,
		users:    users,
		tiers:    tiers,
		gateway:  gateway,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; tests pin it to a fixed instant.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// Create opens a subscription for a payer on a campaign tier. The tier's
// trial configuration decides the initial status: trialing when the tier
// grants trial days, active otherwise. At most one non-canceled
// subscription may exist per (user, campaign).
func (l *Lifecycle) Create(ctx context.Context, userID, campaignID, tierID uint, quantity int) (*model.Subscription, error) {
	if quantity < 1 {
		return nil, validationf("quantity must be >= 1, got %d", quantity)
	}

	if _, err := l.subs.GetCurrentForUserCampaign(ctx, userID, campaignID); err == nil {
		return nil, conflictf("user %d already has a subscription on campaign %d", userID, campaignID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier, err := l.tiers.GetByID(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier.CampaignID != campaignID {
		return nil, validationf("tier %d does not belong to campaign %d", tierID, campaignID)
	}

	customerID := user.GatewayCustomerID
	if customerID == "" {
		customerID, err = l.gateway.CreateCustomer(ctx, user.Email, user.GetFullName())
		if err != nil {
			return nil, gatewayf(err, "create customer for user %d", userID)
		}
		if err := l.users.SetGatewayCustomerID(ctx, userID, customerID); err != nil {
			return nil, err
		}
	}

	remote, err := l.gateway.CreateSubscription(ctx, CreateSubscriptionParams{
		CustomerID:     customerID,
		PriceID:        tier.GatewayPriceID,
		Quantity:       quantity,
		TrialDays:      tier.TrialDays,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, gatewayf(err, "create subscription for user %d", userID)
	}

	now := l.now()
	sub := &model.Subscription{
		UserID:                userID,
		CampaignID:            campaignID,
		TierID:                tierID,
		Quantity:              quantity,
		GatewaySubscriptionID: remote.ID,
		GatewayPriceID:        tier.GatewayPriceID,
		CurrentPeriodStart:    remote.CurrentPeriodStart,
		CurrentPeriodEnd:      remote.CurrentPeriodEnd,
	}
	if tier.TrialDays > 0 {
		sub.Status = model.SubscriptionStatusTrialing
		sub.TrialStart = &now
		trialEnd := now.AddDate(0, 0, tier.TrialDays)
		if remote.TrialEnd != nil {
			trialEnd = *remote.TrialEnd
		}
		sub.TrialEnd = &trialEnd
	} else {
		sub.Status = model.SubscriptionStatusActive
	}

	if err := l.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	l.notify(ctx, user.Email, TemplateSubscriptionStarted, map[string]any{
		"tier_name":  tier.Name,
		"amount":     tier.Amount,
		"currency":   tier.Currency,
		"trial_days": tier.TrialDays,
		"period_end": sub.CurrentPeriodEnd,
	})
	return sub, nil
}

// ConvertTrial moves a trialing subscription to active and clears the
// trial fields. Triggered by the gateway's first paid invoice.
func (l *Lifecycle) ConvertTrial(ctx context.Context, sub *model.Subscription) error {
	if sub.Status != model.SubscriptionStatusTrialing {
		return nil
	}
	sub.Status = model.SubscriptionStatusActive
	sub.TrialStart = nil
	sub.TrialEnd = nil
	return l.subs.UpdateLocked(ctx, sub)
}

// Renew records a successful recurring charge: appends a completed billing
// cycle, advances the current period and clears any grace window. Stale
// renewals (period not later than what is already recorded) are no-ops so
// out-of-order webhook delivery cannot regress state.
func (l *Lifecycle) Renew(ctx context.Context, sub *model.Subscription, periodStart, periodEnd time.Time, amountPaid int64, invoiceRef string) error {
	if sub.Status == model.SubscriptionStatusCanceled {
		return nil
	}
	if !periodEnd.After(sub.CurrentPeriodEnd) {
		l.log.Info("ignoring stale renewal",
			zap.Uint("subscription_id", sub.ID),
			zap.Time("event_period_end", periodEnd),
			zap.Time("current_period_end", sub.CurrentPeriodEnd))
		return nil
	}

	cycle := &model.BillingCycle{
		SubscriptionID: sub.ID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		AmountBilled:   amountPaid,
		Status:         model.BillingCycleStatusCompleted,
		InvoiceRef:     invoiceRef,
	}
	if err := l.cycles.Append(ctx, cycle); err != nil && !errors.Is(err, ErrConflict) {
		return err
	}

	sub.Status = model.SubscriptionStatusActive
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	sub.GracePeriodEnd = nil
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return err
	}

	l.notify(ctx, sub.User.Email, TemplateSubscriptionRenewed, map[string]any{
		"amount":     amountPaid,
		"period_end": periodEnd,
	})
	return nil
}

// MarkPaymentFailed handles a failed recurring charge against the given
// invoice period. With attempts remaining the subscription enters (or
// stays in) past_due and the grace window extends, never shortens. On the
// final attempt the subscription is canceled remotely and locally.
func (l *Lifecycle) MarkPaymentFailed(ctx context.Context, sub *model.Subscription, invoiceRef string, periodStart, periodEnd time.Time, graceDays int, finalAttempt bool) error {
	switch sub.Status {
	case model.SubscriptionStatusActive, model.SubscriptionStatusPastDue, model.SubscriptionStatusTrialing:
	default:
		return nil
	}

	if finalAttempt {
		if err := l.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
			return gatewayf(err, "cancel subscription %d after exhausted retries", sub.ID)
		}
		now := l.now()
		sub.Status = model.SubscriptionStatusCanceled
		sub.GracePeriodEnd = nil
		sub.CanceledAt = &now
		sub.CancellationReason = "payment_failure"
		if err := l.subs.UpdateLocked(ctx, sub); err != nil {
			return err
		}
		l.notify(ctx, sub.User.Email, TemplateSubscriptionCanceled, map[string]any{
			"reason": "payment_failure",
		})
		return nil
	}

	now := l.now()
	graceEnd := now.AddDate(0, 0, graceDays)
	if sub.GracePeriodEnd != nil && sub.GracePeriodEnd.After(graceEnd) {
		graceEnd = *sub.GracePeriodEnd
	}
	sub.Status = model.SubscriptionStatusPastDue
	sub.GracePeriodEnd = &graceEnd
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return err
	}

	// The ledger row carries the failed invoice's own period, which for a
	// renewal charge is the upcoming period, not the one last completed.
	// One failed-cycle row per period; later attempts in the same period
	// hit the overlap check and are skipped.
	cycle := &model.BillingCycle{
		SubscriptionID: sub.ID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Status:         model.BillingCycleStatusFailed,
		InvoiceRef:     invoiceRef,
	}
	if err := l.cycles.Append(ctx, cycle); err != nil && !errors.Is(err, ErrConflict) {
		return err
	}

	l.notify(ctx, sub.User.Email, TemplatePaymentFailed, map[string]any{
		"grace_period_end": graceEnd,
	})
	return nil
}

// Cancel ends a subscription. Immediate cancellation issues the remote
// cancel synchronously; period-end cancellation records local intent first
// and then schedules the remote update, since current billing is
// unaffected until the boundary.
func (l *Lifecycle) Cancel(ctx context.Context, subscriptionID uint, immediate bool, reason, feedback string) (*model.Subscription, error) {
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == model.SubscriptionStatusCanceled {
		return nil, conflictf("subscription %d is already canceled", subscriptionID)
	}

	if !immediate {
		sub.CancelAtPeriodEnd = true
		sub.CancellationReason = reason
		sub.CancellationFeedback = feedback
		if err := l.subs.UpdateLocked(ctx, sub); err != nil {
			return nil, err
		}
		if err := l.gateway.SetCancelAtPeriodEnd(ctx, sub.GatewaySubscriptionID, true); err != nil {
			// Local intent stands; the gateway update is retried by the
			// caller or reconciled by the period-boundary webhook.
			return sub, gatewayf(err, "schedule period-end cancel for subscription %d", sub.ID)
		}
		return sub, nil
	}

	if err := l.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, gatewayf(err, "cancel subscription %d", sub.ID)
	}
	now := l.now()
	sub.Status = model.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.GracePeriodEnd = nil
	sub.CanceledAt = &now
	sub.CancellationReason = reason
	sub.CancellationFeedback = feedback
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return nil, err
	}

	l.notify(ctx, sub.User.Email, TemplateSubscriptionCanceled, map[string]any{
		"reason": reason,
	})
	return sub, nil
}

// ExpireGrace cancels a past_due subscription whose grace window has
// elapsed. Reached both by the periodic sweep and lazily from access
// checks; both paths converge on the same canceled state.
func (l *Lifecycle) ExpireGrace(ctx context.Context, sub *model.Subscription) error {
	now := l.now()
	if sub.Status != model.SubscriptionStatusPastDue || sub.GracePeriodEnd == nil || sub.GracePeriodEnd.After(now) {
		return nil
	}
	if err := l.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return gatewayf(err, "cancel subscription %d on grace expiry", sub.ID)
	}
	sub.Status = model.SubscriptionStatusCanceled
	sub.GracePeriodEnd = nil
	sub.CanceledAt = &now
	sub.CancellationReason = "grace_period_expired"
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return err
	}
	l.notify(ctx, sub.User.Email, TemplateSubscriptionCanceled, map[string]any{
		"reason": "grace_period_expired",
	})
	return nil
}

// MarkRemoteCanceled records a cancellation that already happened at the
// gateway. No remote call is issued; an existing cancellation reason (for
// example a period-end cancel reaching its boundary) is preserved.
func (l *Lifecycle) MarkRemoteCanceled(ctx context.Context, sub *model.Subscription, reason string) error {
	if sub.Status == model.SubscriptionStatusCanceled {
		return nil
	}
	now := l.now()
	sub.Status = model.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.GracePeriodEnd = nil
	sub.CanceledAt = &now
	if sub.CancellationReason == "" {
		sub.CancellationReason = reason
	}
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return err
	}
	l.notify(ctx, sub.User.Email, TemplateSubscriptionCanceled, map[string]any{
		"reason": sub.CancellationReason,
	})
	return nil
}

// Pause suspends collection on an active subscription for durationDays.
func (l *Lifecycle) Pause(ctx context.Context, subscriptionID uint, durationDays int) (*model.Subscription, error) {
	if durationDays < 1 {
		return nil, validationf("pause duration must be >= 1 day, got %d", durationDays)
	}
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionStatusActive {
		return nil, conflictf("cannot pause subscription %d in status %s", sub.ID, sub.Status)
	}

	now := l.now()
	resumesAt := now.AddDate(0, 0, durationDays)
	if err := l.gateway.PauseCollection(ctx, sub.GatewaySubscriptionID, resumesAt); err != nil {
		return nil, gatewayf(err, "pause subscription %d", sub.ID)
	}
	sub.Status = model.SubscriptionStatusPaused
	sub.PausedAt = &now
	sub.ResumesAt = &resumesAt
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume lifts a pause and restores active status.
func (l *Lifecycle) Resume(ctx context.Context, subscriptionID uint) (*model.Subscription, error) {
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionStatusPaused {
		return nil, conflictf("cannot resume subscription %d in status %s", sub.ID, sub.Status)
	}

	if err := l.gateway.ResumeCollection(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, gatewayf(err, "resume subscription %d", sub.ID)
	}
	now := l.now()
	sub.Status = model.SubscriptionStatusActive
	sub.PausedAt = nil
	sub.ResumesAt = nil
	sub.ResumedAt = &now
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate opens a fresh remote subscription for a canceled one, reusing
// the same row. Cancellation fields stay in place as history. No new trial
// is granted on reactivation.
func (l *Lifecycle) Reactivate(ctx context.Context, subscriptionID uint) (*model.Subscription, error) {
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionStatusCanceled {
		return nil, conflictf("subscription %d is not canceled", sub.ID)
	}

	user, err := l.users.GetByID(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	tier, err := l.tiers.GetByID(ctx, sub.TierID)
	if err != nil {
		return nil, err
	}

	remote, err := l.gateway.CreateSubscription(ctx, CreateSubscriptionParams{
		CustomerID:     user.GatewayCustomerID,
		PriceID:        tier.GatewayPriceID,
		Quantity:       sub.Quantity,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, gatewayf(err, "reactivate subscription %d", sub.ID)
	}

	sub.Status = model.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	sub.GatewaySubscriptionID = remote.ID
	sub.CurrentPeriodStart = remote.CurrentPeriodStart
	sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	sub.GracePeriodEnd = nil
	if err := l.subs.UpdateLocked(ctx, sub); err != nil {
		return nil, err
	}

	l.notify(ctx, user.Email, TemplateReactivated, map[string]any{
		"tier_name": tier.Name,
	})
	return sub, nil
}

// ChangePlan moves an active subscription to a new tier. Immediate changes
// prorate the remainder of the current period; period-end changes go
// through a gateway schedule object and leave current billing untouched.
func (l *Lifecycle) ChangePlan(ctx context.Context, subscriptionID, newTierID uint, quantity int, effective PlanChangeEffective) (*PlanChangeResult, error) {
	if quantity < 1 {
		return nil, validationf("quantity must be >= 1, got %d", quantity)
	}
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionStatusActive {
		return nil, conflictf("cannot change plan of subscription %d in status %s", sub.ID, sub.Status)
	}

	newTier, err := l.tiers.GetByID(ctx, newTierID)
	if err != nil {
		return nil, err
	}
	if newTier.CampaignID != sub.CampaignID {
		return nil, validationf("tier %d does not belong to campaign %d", newTierID, sub.CampaignID)
	}
	oldTier, err := l.tiers.GetByID(ctx, sub.TierID)
	if err != nil {
		return nil, err
	}

	switch effective {
	case EffectivePeriodEnd:
		// Scheduled intent: record locally, then create the remote schedule.
		scheduleID, err := l.gateway.SchedulePlanChange(ctx, sub.GatewaySubscriptionID, newTier.GatewayPriceID, quantity, sub.CurrentPeriodEnd)
		if err != nil {
			return nil, gatewayf(err, "schedule plan change for subscription %d", sub.ID)
		}
		sub.GatewayScheduleID = scheduleID
		if err := l.subs.UpdateLocked(ctx, sub); err != nil {
			return nil, err
		}
		return &PlanChangeResult{Subscription: sub, ScheduleID: scheduleID}, nil

	case EffectiveImmediate:
		now := l.now()
		proration, err := Prorate(
			oldTier.Amount*int64(sub.Quantity),
			newTier.Amount*int64(quantity),
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now,
		)
		if err != nil {
			return nil, err
		}
		if err := l.gateway.UpdateSubscriptionPrice(ctx, sub.GatewaySubscriptionID, newTier.GatewayPriceID, quantity, now); err != nil {
			return nil, gatewayf(err, "update price for subscription %d", sub.ID)
		}
		sub.TierID = newTierID
		sub.Quantity = quantity
		sub.GatewayPriceID = newTier.GatewayPriceID
		if err := l.subs.UpdateLocked(ctx, sub); err != nil {
			return nil, err
		}
		return &PlanChangeResult{Subscription: sub, ProrationAmount: proration}, nil

	default:
		return nil, validationf("unknown plan change effectivity %q", effective)
	}
}

// RecordUsage appends a metered usage report locally and mirrors it to the
// gateway.
func (l *Lifecycle) RecordUsage(ctx context.Context, subscriptionID uint, metric string, quantity int64, metadata map[string]any) error {
	if quantity <= 0 {
		return validationf("usage quantity must be positive, got %d", quantity)
	}
	sub, err := l.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionStatusCanceled {
		return conflictf("subscription %d is canceled", sub.ID)
	}

	now := l.now()
	if err := l.gateway.ReportUsage(ctx, sub.GatewaySubscriptionID, quantity, now); err != nil {
		return gatewayf(err, "report usage for subscription %d", sub.ID)
	}
	return l.usage.Append(ctx, &model.UsageRecord{
		SubscriptionID: sub.ID,
		Metric:         metric,
		Quantity:       quantity,
		RecordedAt:     now,
		Metadata:       datatypes.JSONMap(metadata),
	})
}

// notify sends a transactional email and swallows delivery failures;
// billing correctness never depends on email.
func (l *Lifecycle) notify(ctx context.Context, email string, kind TemplateKind, data map[string]any) {
	if email == "" {
		return
	}
	if err := l.notifier.Send(ctx, email, kind, data); err != nil {
		l.log.Warn("notification send failed",
			zap.String("template", string(kind)),
			zap.Error(err))
	}
}
