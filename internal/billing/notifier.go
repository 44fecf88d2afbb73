package billing

import "context"

// TemplateKind selects a transactional email template.
type TemplateKind string

const (
	TemplateSubscriptionStarted  TemplateKind = "subscription_started"
	TemplateTrialEnding          TemplateKind = "trial_ending"
	TemplatePaymentFailed        TemplateKind = "payment_failed"
	TemplateGraceWarning         TemplateKind = "grace_warning"
	TemplateSubscriptionCanceled TemplateKind = "subscription_canceled"
	TemplateSubscriptionRenewed  TemplateKind = "subscription_renewed"
	TemplateReactivated          TemplateKind = "reactivated"
	TemplatePaymentMethodUpdated TemplateKind = "payment_method_updated"
)

// Notifier sends transactional email. Fire-and-forget from the billing
// core's perspective: delivery failures are logged by the implementation
// and never roll back billing state.
type Notifier interface {
	Send(ctx context.Context, userEmail string, kind TemplateKind, data map[string]any) error
}
