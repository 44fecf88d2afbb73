package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundpage_backend/internal/model"
)

// AlignmentResult reports the outcome of one subscription's anchor update
// in a batch. A failed item never blocks the rest of the batch.
type AlignmentResult struct {
	SubscriptionID uint      `json:"subscription_id"`
	Anchor         time.Time `json:"anchor"`
	Err            error     `json:"-"`
}

// CycleManager maintains the append-only billing-cycle ledger and aligns
// subscriptions to a common billing anchor day.
type CycleManager struct {
	cycles  CycleStore
	subs    SubscriptionStore
	gateway Gateway
	log     *zap.Logger
}

func NewCycleManager(cycles CycleStore, subs SubscriptionStore, gateway Gateway, log *zap.Logger) *CycleManager {
	return &CycleManager{cycles: cycles, subs: subs, gateway: gateway, log: log}
}

// RecordCycle appends a completed-charge ledger row. Overlapping periods
// for the same subscription are rejected with ErrConflict.
func (m *CycleManager) RecordCycle(ctx context.Context, subscriptionID uint, periodStart, periodEnd time.Time, amountBilled int64, invoiceRef string) (*model.BillingCycle, error) {
	if !periodEnd.After(periodStart) {
		return nil, validationf("period end %s not after period start %s", periodEnd, periodStart)
	}
	if amountBilled < 0 {
		return nil, validationf("amount billed must not be negative, got %d", amountBilled)
	}

	cycle := &model.BillingCycle{
		SubscriptionID: subscriptionID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		AmountBilled:   amountBilled,
		Status:         model.BillingCycleStatusCompleted,
		InvoiceRef:     invoiceRef,
	}
	if err := m.cycles.Append(ctx, cycle); err != nil {
		return nil, err
	}
	return cycle, nil
}

// History returns the full cycle ledger for a subscription.
func (m *CycleManager) History(ctx context.Context, subscriptionID uint) ([]model.BillingCycle, error) {
	return m.cycles.ListBySubscription(ctx, subscriptionID)
}

// AlignToAnchor moves each subscription's remote billing anchor to the
// next occurrence of anchorDay on or after its current period end. Each
// item succeeds or fails independently; local records stay untouched (the
// new period bounds arrive through the gateway's update webhooks).
func (m *CycleManager) AlignToAnchor(ctx context.Context, subscriptionIDs []uint, anchorDay int) ([]AlignmentResult, error) {
	if anchorDay < 1 || anchorDay > 31 {
		return nil, validationf("anchor day must be in [1, 31], got %d", anchorDay)
	}

	results := make([]AlignmentResult, 0, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		result := AlignmentResult{SubscriptionID: id}

		sub, err := m.subs.GetByID(ctx, id)
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		anchor := NextAnchorDate(sub.CurrentPeriodEnd, anchorDay)
		result.Anchor = anchor
		if err := m.gateway.UpdateBillingAnchor(ctx, sub.GatewaySubscriptionID, anchor); err != nil {
			result.Err = gatewayf(err, "update billing anchor for subscription %d", id)
			m.log.Warn("billing anchor update failed",
				zap.Uint("subscription_id", id),
				zap.Error(err))
		}
		results = append(results, result)
	}
	return results, nil
}

// NextAnchorDate returns the first occurrence of dayOfMonth on or after t.
// Days past the end of a month clamp to that month's last day, so an
// anchor of 31 lands on Feb 28/29, Apr 30, and so on.
func NextAnchorDate(t time.Time, dayOfMonth int) time.Time {
	candidate := anchorInMonth(t.Year(), t.Month(), dayOfMonth, t.Location())
	if candidate.Before(t) {
		next := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
		candidate = anchorInMonth(next.Year(), next.Month(), dayOfMonth, t.Location())
	}
	return candidate
}

func anchorInMonth(year int, month time.Month, day int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
