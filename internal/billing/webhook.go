package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/zap"

	"fundpage_backend/internal/model"
)

// ReceiptArchiver stores a rendered receipt for a paid invoice. Archive
// failures are logged and never affect billing state.
type ReceiptArchiver interface {
	Archive(ctx context.Context, invoiceID string, receipt []byte) error
}

type eventHandler func(ctx context.Context, event stripe.Event) error

// WebhookProcessor validates inbound gateway events and dispatches them to
// lifecycle transitions through a typed handler table. Each event id is
// handled successfully at most once; redeliveries of a handled event are
// acknowledged without effect, while redeliveries of one whose handler
// errored run the handler again.
type WebhookProcessor struct {
	secret    string
	events    EventStore
	invoices  InvoiceStore
	subs      SubscriptionStore
	lifecycle *Lifecycle
	notifier  Notifier
	archiver  ReceiptArchiver
	graceDays int
	handlers  map[string]eventHandler
	log       *zap.Logger
}

// NewWebhookProcessor wires the dispatch table. Adding an event type means
// adding a row here, not touching existing handlers. archiver may be nil.
func NewWebhookProcessor(secret string, events EventStore, invoices InvoiceStore, subs SubscriptionStore, lifecycle *Lifecycle, notifier Notifier, archiver ReceiptArchiver, graceDays int, log *zap.Logger) *WebhookProcessor {
	p := &WebhookProcessor{
		secret:    secret,
		events:    events,
		invoices:  invoices,
		subs:      subs,
		lifecycle: lifecycle,
		notifier:  notifier,
		archiver:  archiver,
		graceDays: graceDays,
		log:       log,
	}
	p.handlers = map[string]eventHandler{
		"customer.subscription.trial_will_end": p.handleTrialWillEnd,
		"invoice.paid":                         p.handleInvoicePaid,
		"invoice.payment_failed":               p.handleInvoicePaymentFailed,
		"customer.subscription.updated":        p.handleSubscriptionUpdated,
		"customer.subscription.deleted":        p.handleSubscriptionDeleted,
	}
	return p
}

// Process verifies the payload signature, claims the event id and runs the
// matching handler. A handler error is recorded on the claim without
// settling it, so the gateway's redelivery gets to reclaim and retry.
// Unknown event types are logged and acknowledged so new gateway event
// types never block delivery of known ones.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, p.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	if err := p.events.Claim(ctx, event.ID, string(event.Type)); err != nil {
		if errors.Is(err, ErrConflict) {
			p.log.Info("skipping already-processed event", zap.String("event_id", event.ID))
			return nil
		}
		return err
	}

	handler, ok := p.handlers[string(event.Type)]
	if !ok {
		p.log.Info("acknowledging unhandled event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return p.events.MarkProcessed(ctx, event.ID, nil)
	}

	handleErr := handler(ctx, event)
	if markErr := p.events.MarkProcessed(ctx, event.ID, handleErr); markErr != nil {
		p.log.Error("failed to mark event processed",
			zap.String("event_id", event.ID),
			zap.Error(markErr))
	}
	return handleErr
}

func (p *WebhookProcessor) handleTrialWillEnd(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return validationf("parse trial_will_end payload: %v", err)
	}
	sub, err := p.subs.GetByGatewayID(ctx, remote.ID)
	if err != nil {
		return err
	}

	// Heads-up only; no state change.
	if err := p.notifier.Send(ctx, sub.User.Email, TemplateTrialEnding, map[string]any{
		"trial_end": unixTime(remote.TrialEnd),
	}); err != nil {
		p.log.Warn("trial-ending notification failed",
			zap.Uint("subscription_id", sub.ID),
			zap.Error(err))
	}
	return nil
}

func (p *WebhookProcessor) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return validationf("parse invoice payload: %v", err)
	}
	if inv.Subscription == nil {
		return nil
	}
	sub, err := p.subs.GetByGatewayID(ctx, inv.Subscription.ID)
	if err != nil {
		return err
	}

	periodStart, periodEnd := invoicePeriod(&inv)
	if err := p.invoices.Upsert(ctx, &model.Invoice{
		ExternalID:     inv.ID,
		SubscriptionID: sub.ID,
		AmountDue:      inv.AmountDue,
		AmountPaid:     inv.AmountPaid,
		Status:         model.InvoiceStatus(inv.Status),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}); err != nil {
		return err
	}

	// A partially-settled invoice still reads as open; no transition yet.
	if inv.Status != stripe.InvoiceStatusPaid {
		p.log.Info("invoice not fully paid, leaving status as-is",
			zap.Uint("subscription_id", sub.ID),
			zap.String("invoice_id", inv.ID),
			zap.String("invoice_status", string(inv.Status)))
		return nil
	}

	p.archiveReceipt(ctx, sub, &inv)

	switch inv.BillingReason {
	case stripe.InvoiceBillingReasonSubscriptionCreate:
		return p.lifecycle.ConvertTrial(ctx, sub)
	case stripe.InvoiceBillingReasonSubscriptionCycle:
		return p.lifecycle.Renew(ctx, sub, periodStart, periodEnd, inv.AmountPaid, inv.ID)
	default:
		// One-off or manually-paid invoices (e.g. recovery via
		// UpdatePaymentMethod) also settle the period.
		return p.lifecycle.Renew(ctx, sub, periodStart, periodEnd, inv.AmountPaid, inv.ID)
	}
}

func (p *WebhookProcessor) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return validationf("parse invoice payload: %v", err)
	}
	if inv.Subscription == nil {
		return nil
	}
	sub, err := p.subs.GetByGatewayID(ctx, inv.Subscription.ID)
	if err != nil {
		return err
	}

	// Out-of-order guard: once a later success advanced the local period
	// to (or past) this invoice's period, the failure is stale.
	periodStart, periodEnd := invoicePeriod(&inv)
	if !periodEnd.After(sub.CurrentPeriodEnd) && sub.Status == model.SubscriptionStatusActive {
		p.log.Info("ignoring stale payment failure",
			zap.Uint("subscription_id", sub.ID),
			zap.String("invoice_id", inv.ID),
			zap.Time("event_period_end", periodEnd),
			zap.Time("current_period_end", sub.CurrentPeriodEnd))
		return nil
	}

	if err := p.invoices.Upsert(ctx, &model.Invoice{
		ExternalID:     inv.ID,
		SubscriptionID: sub.ID,
		AmountDue:      inv.AmountDue,
		AmountPaid:     inv.AmountPaid,
		Status:         model.InvoiceStatus(inv.Status),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}); err != nil {
		return err
	}

	finalAttempt := inv.NextPaymentAttempt == 0
	return p.lifecycle.MarkPaymentFailed(ctx, sub, inv.ID, periodStart, periodEnd, p.graceDays, finalAttempt)
}

func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return validationf("parse subscription payload: %v", err)
	}
	sub, err := p.subs.GetByGatewayID(ctx, remote.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if sub.Status == model.SubscriptionStatusCanceled {
		return nil
	}

	// Mirror remote period bounds (anchor moves, schedule phase flips).
	// Only forward movement is applied.
	periodEnd := unixTime(remote.CurrentPeriodEnd)
	if periodEnd.After(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = unixTime(remote.CurrentPeriodStart)
		sub.CurrentPeriodEnd = periodEnd
		return p.subs.UpdateLocked(ctx, sub)
	}
	return nil
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return validationf("parse subscription payload: %v", err)
	}
	sub, err := p.subs.GetByGatewayID(ctx, remote.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	// Remote already gone; record the terminal state locally.
	return p.lifecycle.MarkRemoteCanceled(ctx, sub, "gateway_deleted")
}

func (p *WebhookProcessor) archiveReceipt(ctx context.Context, sub *model.Subscription, inv *stripe.Invoice) {
	if p.archiver == nil {
		return
	}
	receipt := fmt.Sprintf(
		"<html><body><h1>Receipt %s</h1><p>Subscription %d</p><p>Amount paid: %d %s</p></body></html>",
		inv.ID, sub.ID, inv.AmountPaid, inv.Currency,
	)
	if err := p.archiver.Archive(ctx, inv.ID, []byte(receipt)); err != nil {
		p.log.Warn("receipt archive failed",
			zap.String("invoice_id", inv.ID),
			zap.Error(err))
	}
}

// invoicePeriod pulls the service period off the first invoice line,
// falling back to the invoice-level period.
func invoicePeriod(inv *stripe.Invoice) (time.Time, time.Time) {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		p := inv.Lines.Data[0].Period
		return unixTime(p.Start), unixTime(p.End)
	}
	return unixTime(inv.PeriodStart), unixTime(inv.PeriodEnd)
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
