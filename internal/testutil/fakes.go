package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fundpage_backend/internal/billing"
)

// FakeGateway records every call and answers from canned values. Set an
// entry in Errs keyed by method name to make that method fail.
type FakeGateway struct {
	mu    sync.Mutex
	calls []string

	Errs map[string]error

	CreatedSubscription *billing.RemoteSubscription
	ScheduleID          string
	OpenInvoices        []billing.RemoteInvoice
}

var _ billing.Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Errs: map[string]error{}, ScheduleID: "sched_fake"}
}

func (g *FakeGateway) record(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, method)
	return g.Errs[method]
}

// Calls returns the method names invoked so far, in order.
func (g *FakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *FakeGateway) CallCount(method string) int {
	count := 0
	for _, c := range g.Calls() {
		if c == method {
			count++
		}
	}
	return count
}

func (g *FakeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := g.record("CreateCustomer"); err != nil {
		return "", err
	}
	return "cus_fake", nil
}

func (g *FakeGateway) CreateSubscription(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.RemoteSubscription, error) {
	if err := g.record("CreateSubscription"); err != nil {
		return nil, err
	}
	if g.CreatedSubscription != nil {
		return g.CreatedSubscription, nil
	}

	now := time.Now().UTC()
	remote := &billing.RemoteSubscription{
		ID:                 "sub_fake",
		Status:             "active",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if params.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, params.TrialDays)
		remote.Status = "trialing"
		remote.TrialEnd = &trialEnd
		remote.CurrentPeriodEnd = trialEnd
	}
	return remote, nil
}

func (g *FakeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, quantity int, prorationDate time.Time) error {
	return g.record("UpdateSubscriptionPrice")
}

func (g *FakeGateway) SchedulePlanChange(ctx context.Context, subscriptionID, priceID string, quantity int, effectiveAt time.Time) (string, error) {
	if err := g.record("SchedulePlanChange"); err != nil {
		return "", err
	}
	return g.ScheduleID, nil
}

func (g *FakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return g.record("CancelSubscription")
}

func (g *FakeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	return g.record("SetCancelAtPeriodEnd")
}

func (g *FakeGateway) PauseCollection(ctx context.Context, subscriptionID string, resumesAt time.Time) error {
	return g.record("PauseCollection")
}

func (g *FakeGateway) ResumeCollection(ctx context.Context, subscriptionID string) error {
	return g.record("ResumeCollection")
}

func (g *FakeGateway) UpdateBillingAnchor(ctx context.Context, subscriptionID string, anchor time.Time) error {
	return g.record("UpdateBillingAnchor")
}

func (g *FakeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return g.record("AttachPaymentMethod")
}

func (g *FakeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return g.record("SetDefaultPaymentMethod")
}

func (g *FakeGateway) PayInvoice(ctx context.Context, invoiceID string) error {
	if err := g.record("PayInvoice"); err != nil {
		return err
	}
	if err, ok := g.Errs["PayInvoice:"+invoiceID]; ok {
		return err
	}
	return nil
}

func (g *FakeGateway) ListOpenInvoices(ctx context.Context, subscriptionID string) ([]billing.RemoteInvoice, error) {
	if err := g.record("ListOpenInvoices"); err != nil {
		return nil, err
	}
	return g.OpenInvoices, nil
}

func (g *FakeGateway) ReportUsage(ctx context.Context, subscriptionID string, quantity int64, at time.Time) error {
	return g.record("ReportUsage")
}

// SentMessage is one notification captured by the fake notifier.
type SentMessage struct {
	Email string
	Kind  billing.TemplateKind
	Data  map[string]any
}

type FakeNotifier struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

var _ billing.Notifier = (*FakeNotifier)(nil)

func NewFakeNotifier() *FakeNotifier { return &FakeNotifier{} }

func (n *FakeNotifier) Send(ctx context.Context, email string, kind billing.TemplateKind, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, SentMessage{Email: email, Kind: kind, Data: data})
	return nil
}

func (n *FakeNotifier) Sent() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentMessage(nil), n.sent...)
}

// SentOfKind returns the captured notifications of one kind.
func (n *FakeNotifier) SentOfKind(kind billing.TemplateKind) []SentMessage {
	var out []SentMessage
	for _, m := range n.Sent() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// FakeArchiver captures archived receipts keyed by invoice id.
type FakeArchiver struct {
	mu       sync.Mutex
	Receipts map[string][]byte
	Err      error
}

var _ billing.ReceiptArchiver = (*FakeArchiver)(nil)

func NewFakeArchiver() *FakeArchiver {
	return &FakeArchiver{Receipts: map[string][]byte{}}
}

func (a *FakeArchiver) Archive(ctx context.Context, invoiceID string, receipt []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return fmt.Errorf("archive %s: %w", invoiceID, a.Err)
	}
	a.Receipts[invoiceID] = receipt
	return nil
}
