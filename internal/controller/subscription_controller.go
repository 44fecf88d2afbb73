package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
	"fundpage_backend/internal/repository"
	"fundpage_backend/pkg/utils/jwt"
)

// SubscriptionController exposes the subscription lifecycle over HTTP.
// Handlers do request parsing and ownership checks only; every state
// transition goes through the billing services.
type SubscriptionController struct {
	lifecycle *billing.Lifecycle
	recovery  *billing.Recovery
	cycles    *billing.CycleManager
	processor *billing.WebhookProcessor
	subs      *repository.SubscriptionRepository
	tiers     *repository.TierRepository
	log       *zap.Logger
}

func NewSubscriptionController(
	lifecycle *billing.Lifecycle,
	recovery *billing.Recovery,
	cycles *billing.CycleManager,
	processor *billing.WebhookProcessor,
	subs *repository.SubscriptionRepository,
	tiers *repository.TierRepository,
	log *zap.Logger,
) *SubscriptionController {
	return &SubscriptionController{
		lifecycle: lifecycle,
		recovery:  recovery,
		cycles:    cycles,
		processor: processor,
		subs:      subs,
		tiers:     tiers,
		log:       log,
	}
}

// ListPlans returns the tiers of a campaign, cheapest first.
func (sc *SubscriptionController) ListPlans(c *fiber.Ctx) error {
	campaignID, err := queryUint(c, "campaign_id")
	if err != nil {
		return badRequest(c, "campaign_id is required")
	}

	tiers, err := sc.tiers.ListByCampaign(c.Context(), campaignID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(fiber.Map{"plans": tiers})
}

type createSubscriptionRequest struct {
	CampaignID uint `json:"campaign_id"`
	TierID     uint `json:"tier_id"`
	Quantity   int  `json:"quantity"`
}

func (sc *SubscriptionController) Create(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	sub, err := sc.lifecycle.Create(c.Context(), claims.UserID, req.CampaignID, req.TierID, req.Quantity)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// GetMySubscription returns the caller's current subscription for a
// campaign; canceled subscriptions do not count as current.
func (sc *SubscriptionController) GetMySubscription(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	campaignID, err := queryUint(c, "campaign_id")
	if err != nil {
		return badRequest(c, "campaign_id is required")
	}

	sub, err := sc.subs.GetCurrentForUserCampaign(c.Context(), claims.UserID, campaignID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(sub)
}

type cancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason"`
	Feedback  string `json:"feedback"`
}

func (sc *SubscriptionController) Cancel(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	updated, err := sc.lifecycle.Cancel(c.Context(), sub.ID, req.Immediate, req.Reason, req.Feedback)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(updated)
}

type pauseRequest struct {
	DurationDays int `json:"duration_days"`
}

func (sc *SubscriptionController) Pause(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	var req pauseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	updated, err := sc.lifecycle.Pause(c.Context(), sub.ID, req.DurationDays)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(updated)
}

func (sc *SubscriptionController) Resume(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	updated, err := sc.lifecycle.Resume(c.Context(), sub.ID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(updated)
}

func (sc *SubscriptionController) Reactivate(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	updated, err := sc.lifecycle.Reactivate(c.Context(), sub.ID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(updated)
}

type changePlanRequest struct {
	TierID    uint   `json:"tier_id"`
	Quantity  int    `json:"quantity"`
	Effective string `json:"effective"`
}

func (sc *SubscriptionController) ChangePlan(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Quantity == 0 {
		req.Quantity = sub.Quantity
	}

	effective := billing.PlanChangeEffective(req.Effective)
	if effective == "" {
		effective = billing.EffectiveImmediate
	}
	if effective != billing.EffectiveImmediate && effective != billing.EffectivePeriodEnd {
		return badRequest(c, "effective must be immediate or period_end")
	}

	result, err := sc.lifecycle.ChangePlan(c.Context(), sub.ID, req.TierID, req.Quantity, effective)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(result)
}

type paymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// UpdatePaymentMethod swaps the default payment method and retries open
// invoices. Per-invoice outcomes come back in the response; status
// transitions stay with the webhook pipeline.
func (sc *SubscriptionController) UpdatePaymentMethod(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	var req paymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PaymentMethodID == "" {
		return badRequest(c, "payment_method_id is required")
	}

	results, err := sc.recovery.UpdatePaymentMethod(c.Context(), sub.ID, req.PaymentMethodID)
	if err != nil {
		return sc.fail(c, err)
	}

	type payOutcome struct {
		InvoiceID string `json:"invoice_id"`
		AmountDue int64  `json:"amount_due"`
		Paid      bool   `json:"paid"`
		Error     string `json:"error,omitempty"`
	}
	outcomes := make([]payOutcome, 0, len(results))
	for _, r := range results {
		o := payOutcome{InvoiceID: r.InvoiceID, AmountDue: r.AmountDue, Paid: r.Paid}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	return c.JSON(fiber.Map{"invoices": outcomes})
}

type usageRequest struct {
	Metric   string         `json:"metric"`
	Quantity int64          `json:"quantity"`
	Metadata map[string]any `json:"metadata"`
}

func (sc *SubscriptionController) RecordUsage(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	var req usageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := sc.lifecycle.RecordUsage(c.Context(), sub.ID, req.Metric, req.Quantity, req.Metadata); err != nil {
		return sc.fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// CheckAccess reports whether the subscription still grants service
// access. An expired grace period is settled here before answering.
func (sc *SubscriptionController) CheckAccess(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	result, err := sc.recovery.CheckServiceAccess(c.Context(), sub.UserID, sub.CampaignID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(result)
}

// ListCycles returns the billing-cycle ledger for a subscription, newest
// first.
func (sc *SubscriptionController) ListCycles(c *fiber.Ctx) error {
	sub, err := sc.ownedSubscription(c)
	if err != nil {
		return sc.fail(c, err)
	}

	cycles, err := sc.cycles.History(c.Context(), sub.ID)
	if err != nil {
		return sc.fail(c, err)
	}
	return c.JSON(fiber.Map{"cycles": cycles})
}

// HandleWebhook receives gateway events. The raw body and signature
// header go to the processor untouched; a signature failure is the only
// 400 here, everything else acks with 200 so the gateway stops retrying.
func (sc *SubscriptionController) HandleWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")

	err := sc.processor.Process(c.Context(), c.Body(), signature)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"received": true})
	case errors.Is(err, billing.ErrSignature):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	default:
		// Processing failed after a valid signature. Return 500 so the
		// gateway redelivers; the idempotence gate absorbs the replay.
		sc.log.Error("webhook processing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failed"})
	}
}

// ownedSubscription loads the :id subscription and verifies the caller
// owns it. Someone else's subscription reads as not found so the route
// never leaks which ids exist.
func (sc *SubscriptionController) ownedSubscription(c *fiber.Ctx) (*model.Subscription, error) {
	claims := c.Locals("user").(*jwt.Claims)

	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return nil, billing.ErrNotFound
	}

	sub, err := sc.subs.GetByID(c.Context(), uint(id))
	if err != nil {
		return nil, err
	}
	if sub.UserID != claims.UserID {
		return nil, billing.ErrNotFound
	}
	return sub, nil
}

// fail maps the billing error taxonomy onto HTTP status codes.
func (sc *SubscriptionController) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, billing.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, billing.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, billing.ErrGateway):
		sc.log.Error("gateway call failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment provider unavailable"})
	default:
		sc.log.Error("unhandled error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func queryUint(c *fiber.Ctx, key string) (uint, error) {
	v, err := strconv.ParseUint(c.Query(key), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
