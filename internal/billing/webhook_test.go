package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
	"fundpage_backend/internal/testutil"
)

const webhookSecret = "whsec_test"

type webhookStack struct {
	*testStack
	processor *billing.WebhookProcessor
	archiver  *testutil.FakeArchiver
}

func newWebhookStack(t *testing.T) *webhookStack {
	t.Helper()
	s := newTestStack(t)
	archiver := testutil.NewFakeArchiver()
	processor := billing.NewWebhookProcessor(webhookSecret, s.events, s.invoices, s.subs,
		s.lifecycle, s.notifier, archiver, 7, zap.NewNop())
	return &webhookStack{testStack: s, processor: processor, archiver: archiver}
}

func (w *webhookStack) deliver(t *testing.T, eventID, eventType string, object map[string]any) error {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)

	signature := testutil.SignWebhook(payload, webhookSecret, time.Now())
	return w.processor.Process(context.Background(), payload, signature)
}

func invoiceObject(sub *model.Subscription, invoiceID, status, billingReason string, amountPaid int64, periodStart, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":             invoiceID,
		"object":         "invoice",
		"subscription":   sub.GatewaySubscriptionID,
		"status":         status,
		"billing_reason": billingReason,
		"amount_due":     amountPaid,
		"amount_paid":    amountPaid,
		"currency":       "usd",
		"lines": map[string]any{
			"data": []map[string]any{
				{
					"period": map[string]any{
						"start": periodStart.Unix(),
						"end":   periodEnd.Unix(),
					},
				},
			},
		},
	}
}

func webhookFixture(t *testing.T, w *webhookStack) *model.Subscription {
	t.Helper()
	user := testutil.CreateUser(t, w.db)
	campaign := testutil.CreateCampaign(t, w.db)
	tier := testutil.CreateTier(t, w.db, campaign.ID, 1500, 0)
	created := testutil.CreateSubscription(t, w.db, user, campaign.ID, tier.ID)
	return w.reload(t, created.ID)
}

func TestWebhookSignature(t *testing.T) {
	w := newWebhookStack(t)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	err := w.processor.Process(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, billing.ErrSignature)

	// Valid signature over a tampered payload also fails.
	signature := testutil.SignWebhook(payload, webhookSecret, time.Now())
	err = w.processor.Process(context.Background(), []byte(`{"id":"evt_2","type":"invoice.paid"}`), signature)
	assert.ErrorIs(t, err, billing.ErrSignature)
}

func TestWebhookRenewalAndReplay(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	newStart := sub.CurrentPeriodEnd
	newEnd := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
	obj := invoiceObject(sub, "in_cycle_1", "paid", "subscription_cycle", 1500, newStart, newEnd)

	require.NoError(t, w.deliver(t, "evt_renew_1", "invoice.paid", obj))

	got := w.reload(t, sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	assert.WithinDuration(t, newEnd, got.CurrentPeriodEnd, time.Second)
	assert.Len(t, w.cycleRows(t, sub.ID), 1)
	assert.Contains(t, w.archiver.Receipts, "in_cycle_1")

	// Redelivery of the same event id is acknowledged without effect.
	require.NoError(t, w.deliver(t, "evt_renew_1", "invoice.paid", obj))
	assert.Len(t, w.cycleRows(t, sub.ID), 1)
	assert.Len(t, w.notifier.SentOfKind(billing.TemplateSubscriptionRenewed), 1)
}

func TestWebhookTrialConversion(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)
	sub.Status = model.SubscriptionStatusTrialing
	require.NoError(t, w.db.Save(sub).Error)

	obj := invoiceObject(sub, "in_first_1", "paid", "subscription_create", 1500,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	require.NoError(t, w.deliver(t, "evt_first_1", "invoice.paid", obj))

	got := w.reload(t, sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	// First-invoice conversion does not append a renewal cycle.
	assert.Empty(t, w.cycleRows(t, sub.ID))
}

func TestWebhookOpenInvoiceIsMirroredOnly(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	obj := invoiceObject(sub, "in_partial_1", "open", "subscription_cycle", 500,
		sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))
	require.NoError(t, w.deliver(t, "evt_partial_1", "invoice.paid", obj))

	// Invoice mirrored, no transition, no receipt.
	inv, err := w.invoices.GetByExternalID(context.Background(), "in_partial_1")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusOpen, inv.Status)
	assert.Equal(t, model.SubscriptionStatusActive, w.reload(t, sub.ID).Status)
	assert.Empty(t, w.cycleRows(t, sub.ID))
	assert.NotContains(t, w.archiver.Receipts, "in_partial_1")
}

func TestWebhookPaymentFailed(t *testing.T) {
	t.Run("retries remaining enters past_due", func(t *testing.T) {
		w := newWebhookStack(t)
		sub := webhookFixture(t, w)

		obj := invoiceObject(sub, "in_fail_1", "open", "subscription_cycle", 0,
			sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))
		obj["next_payment_attempt"] = time.Now().Add(24 * time.Hour).Unix()

		require.NoError(t, w.deliver(t, "evt_fail_1", "invoice.payment_failed", obj))

		got := w.reload(t, sub.ID)
		assert.Equal(t, model.SubscriptionStatusPastDue, got.Status)
		require.NotNil(t, got.GracePeriodEnd)
		assert.Len(t, w.notifier.SentOfKind(billing.TemplatePaymentFailed), 1)
	})

	t.Run("final attempt cancels the subscription", func(t *testing.T) {
		w := newWebhookStack(t)
		sub := webhookFixture(t, w)

		// next_payment_attempt absent means the gateway gave up.
		obj := invoiceObject(sub, "in_fail_2", "open", "subscription_cycle", 0,
			sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))

		require.NoError(t, w.deliver(t, "evt_fail_2", "invoice.payment_failed", obj))

		got := w.reload(t, sub.ID)
		assert.Equal(t, model.SubscriptionStatusCanceled, got.Status)
		assert.Equal(t, "payment_failure", got.CancellationReason)
		assert.Equal(t, 1, w.gateway.CallCount("CancelSubscription"))
		assert.Len(t, w.notifier.SentOfKind(billing.TemplateSubscriptionCanceled), 1)
	})

	t.Run("failed renewal after a paid one still ledgers a failed cycle", func(t *testing.T) {
		w := newWebhookStack(t)
		sub := webhookFixture(t, w)

		paidStart := sub.CurrentPeriodEnd
		paidEnd := paidStart.AddDate(0, 1, 0)
		renew := invoiceObject(sub, "in_ok_2", "paid", "subscription_cycle", 1500, paidStart, paidEnd)
		require.NoError(t, w.deliver(t, "evt_ok_2", "invoice.paid", renew))

		// The next period's charge fails with retries remaining.
		failStart := paidEnd
		failEnd := failStart.AddDate(0, 1, 0)
		fail := invoiceObject(sub, "in_fail_3", "open", "subscription_cycle", 0, failStart, failEnd)
		fail["next_payment_attempt"] = time.Now().Add(24 * time.Hour).Unix()
		require.NoError(t, w.deliver(t, "evt_fail_3", "invoice.payment_failed", fail))

		assert.Equal(t, model.SubscriptionStatusPastDue, w.reload(t, sub.ID).Status)

		rows := w.cycleRows(t, sub.ID)
		require.Len(t, rows, 2)
		assert.Equal(t, model.BillingCycleStatusCompleted, rows[0].Status)
		assert.Equal(t, model.BillingCycleStatusFailed, rows[1].Status)
		assert.Equal(t, "in_fail_3", rows[1].InvoiceRef)
		assert.WithinDuration(t, failStart, rows[1].PeriodStart, time.Second)
		assert.WithinDuration(t, failEnd, rows[1].PeriodEnd, time.Second)
	})

	t.Run("stale failure after a successful renewal is ignored", func(t *testing.T) {
		w := newWebhookStack(t)
		sub := webhookFixture(t, w)

		// Renew first so the local period has advanced past the failure's.
		newStart := sub.CurrentPeriodEnd
		newEnd := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
		renew := invoiceObject(sub, "in_ok_1", "paid", "subscription_cycle", 1500, newStart, newEnd)
		require.NoError(t, w.deliver(t, "evt_ok_1", "invoice.paid", renew))

		stale := invoiceObject(sub, "in_stale_1", "open", "subscription_cycle", 0,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		require.NoError(t, w.deliver(t, "evt_stale_1", "invoice.payment_failed", stale))

		got := w.reload(t, sub.ID)
		assert.Equal(t, model.SubscriptionStatusActive, got.Status)
		assert.Nil(t, got.GracePeriodEnd)
	})
}

func TestWebhookRedeliveryRetriesFailedHandler(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	// Final-attempt failure while the gateway cancel call is erroring.
	obj := invoiceObject(sub, "in_retry_1", "open", "subscription_cycle", 0,
		sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))
	w.gateway.Errs["CancelSubscription"] = fmt.Errorf("stripe is down")

	err := w.deliver(t, "evt_retry_1", "invoice.payment_failed", obj)
	assert.ErrorIs(t, err, billing.ErrGateway)
	assert.Equal(t, model.SubscriptionStatusActive, w.reload(t, sub.ID).Status)

	// The failed attempt is on record but the claim is not settled.
	var event model.WebhookEvent
	require.NoError(t, w.db.Where("external_id = ?", "evt_retry_1").First(&event).Error)
	assert.Nil(t, event.ProcessedAt)
	assert.NotEmpty(t, event.ProcessingError)

	// With the gateway back, the redelivered copy completes the transition.
	delete(w.gateway.Errs, "CancelSubscription")
	require.NoError(t, w.deliver(t, "evt_retry_1", "invoice.payment_failed", obj))

	got := w.reload(t, sub.ID)
	assert.Equal(t, model.SubscriptionStatusCanceled, got.Status)
	assert.Equal(t, "payment_failure", got.CancellationReason)

	require.NoError(t, w.db.Where("external_id = ?", "evt_retry_1").First(&event).Error)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}

func TestWebhookSubscriptionUpdated(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	newStart := sub.CurrentPeriodEnd
	newEnd := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
	require.NoError(t, w.deliver(t, "evt_upd_1", "customer.subscription.updated", map[string]any{
		"id":                   sub.GatewaySubscriptionID,
		"object":               "subscription",
		"status":               "active",
		"current_period_start": newStart.Unix(),
		"current_period_end":   newEnd.Unix(),
	}))

	got := w.reload(t, sub.ID)
	assert.WithinDuration(t, newEnd, got.CurrentPeriodEnd, time.Second)

	// A backwards period move is not mirrored.
	require.NoError(t, w.deliver(t, "evt_upd_2", "customer.subscription.updated", map[string]any{
		"id":                   sub.GatewaySubscriptionID,
		"object":               "subscription",
		"status":               "active",
		"current_period_start": sub.CurrentPeriodStart.Unix(),
		"current_period_end":   sub.CurrentPeriodEnd.Unix(),
	}))
	got = w.reload(t, sub.ID)
	assert.WithinDuration(t, newEnd, got.CurrentPeriodEnd, time.Second)
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	deletedAt := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	w.lifecycle.WithClock(func() time.Time { return deletedAt })

	require.NoError(t, w.deliver(t, "evt_del_1", "customer.subscription.deleted", map[string]any{
		"id":     sub.GatewaySubscriptionID,
		"object": "subscription",
		"status": "canceled",
	}))

	got := w.reload(t, sub.ID)
	assert.Equal(t, model.SubscriptionStatusCanceled, got.Status)
	assert.Equal(t, "gateway_deleted", got.CancellationReason)
	require.NotNil(t, got.CanceledAt)
	assert.Equal(t, deletedAt, got.CanceledAt.UTC())
	assert.Len(t, w.notifier.SentOfKind(billing.TemplateSubscriptionCanceled), 1)

	// Events for unknown remote subscriptions are acknowledged.
	require.NoError(t, w.deliver(t, "evt_del_2", "customer.subscription.deleted", map[string]any{
		"id":     "sub_unknown",
		"object": "subscription",
		"status": "canceled",
	}))
}

func TestWebhookTrialWillEnd(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)
	sub.Status = model.SubscriptionStatusTrialing
	require.NoError(t, w.db.Save(sub).Error)

	require.NoError(t, w.deliver(t, "evt_trial_1", "customer.subscription.trial_will_end", map[string]any{
		"id":        sub.GatewaySubscriptionID,
		"object":    "subscription",
		"status":    "trialing",
		"trial_end": time.Now().AddDate(0, 0, 3).Unix(),
	}))

	// Heads-up only: notification sent, status untouched.
	assert.Len(t, w.notifier.SentOfKind(billing.TemplateTrialEnding), 1)
	assert.Equal(t, model.SubscriptionStatusTrialing, w.reload(t, sub.ID).Status)
}

func TestWebhookUnknownEventType(t *testing.T) {
	w := newWebhookStack(t)

	require.NoError(t, w.deliver(t, "evt_unknown_1", "charge.refunded", map[string]any{
		"id":     "ch_1",
		"object": "charge",
	}))

	// The event id is claimed, so a redelivery is a dedupe no-op too.
	require.NoError(t, w.deliver(t, "evt_unknown_1", "charge.refunded", map[string]any{
		"id":     "ch_1",
		"object": "charge",
	}))
}

func TestWebhookEventLedger(t *testing.T) {
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	obj := invoiceObject(sub, "in_ledger_1", "paid", "subscription_cycle", 1500,
		sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))
	require.NoError(t, w.deliver(t, "evt_ledger_1", "invoice.paid", obj))

	var event model.WebhookEvent
	require.NoError(t, w.db.Where("external_id = ?", "evt_ledger_1").First(&event).Error)
	assert.Equal(t, "invoice.paid", event.EventType)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}

func TestWebhookQuantityScaledRenewal(t *testing.T) {
	// Renewal amounts flow through as billed, whatever the quantity.
	w := newWebhookStack(t)
	sub := webhookFixture(t, w)

	obj := invoiceObject(sub, fmt.Sprintf("in_qty_%d", sub.ID), "paid", "subscription_cycle", 4500,
		sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))
	require.NoError(t, w.deliver(t, "evt_qty_1", "invoice.paid", obj))

	rows := w.cycleRows(t, sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4500), rows[0].AmountBilled)
}
