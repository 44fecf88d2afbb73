package email

import (
	"html/template"

	"fundpage_backend/internal/billing"
)

// templateFor maps a notification kind to its subject line and template.
func templateFor(kind billing.TemplateKind) (subject, templateName string, ok bool) {
	switch kind {
	case billing.TemplateSubscriptionStarted:
		return "Your pledge is live! 🎉", "subscription_started", true
	case billing.TemplateTrialEnding:
		return "Your trial ends soon", "trial_ending", true
	case billing.TemplatePaymentFailed:
		return "We couldn't process your payment", "payment_failed", true
	case billing.TemplateGraceWarning:
		return "Action needed: your pledge is about to lapse", "grace_warning", true
	case billing.TemplateSubscriptionCanceled:
		return "Your pledge has been canceled", "subscription_canceled", true
	case billing.TemplateSubscriptionRenewed:
		return "Thanks for your continued support! 💜", "subscription_renewed", true
	case billing.TemplateReactivated:
		return "Welcome back! Your pledge is active again", "reactivated", true
	case billing.TemplatePaymentMethodUpdated:
		return "Your payment method was updated", "payment_method_updated", true
	default:
		return "", "", false
	}
}

func loadTemplates() (*template.Template, error) {
	root := template.New("email")
	for name, body := range templateBodies {
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, err
		}
	}
	return root, nil
}

var templateBodies = map[string]string{
	"subscription_started": `
<h2>Your pledge is live!</h2>
<p>You are now backing <strong>{{.tier_name}}</strong>.</p>
{{if .trial_days}}<p>Your {{.trial_days}}-day trial has started. Billing begins when it ends.</p>{{end}}
<p>Your current period runs until {{.period_end}}.</p>`,

	"trial_ending": `
<h2>Your trial ends soon</h2>
<p>Your trial ends on {{.trial_end}}. Your first charge happens then, and your backer benefits continue uninterrupted.</p>`,

	"payment_failed": `
<h2>We couldn't process your payment</h2>
<p>Don't worry, your backer benefits are safe for now. We'll retry automatically.</p>
<p>Please update your payment method before {{.grace_period_end}} to keep your pledge active.</p>`,

	"grace_warning": `
<h2>Your pledge is about to lapse</h2>
<p>Your grace period ends on {{.grace_period_end}}. Update your payment method today to keep supporting this campaign.</p>`,

	"subscription_canceled": `
<h2>Your pledge has been canceled</h2>
<p>We're sorry to see you go. You can reactivate your pledge anytime from your account page.</p>`,

	"subscription_renewed": `
<h2>Thanks for your continued support!</h2>
<p>Your pledge renewed successfully. Your next billing date is {{.period_end}}.</p>`,

	"reactivated": `
<h2>Welcome back!</h2>
<p>Your pledge for <strong>{{.tier_name}}</strong> is active again.</p>`,

	"payment_method_updated": `
<h2>Your payment method was updated</h2>
<p>Your new payment method is now the default for this pledge.</p>
{{if .open_invoices}}<p>We've attempted payment on {{.open_invoices}} outstanding invoice(s).</p>{{end}}`,
}
