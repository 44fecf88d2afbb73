package controller_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/controller"
	"fundpage_backend/internal/middleware"
	"fundpage_backend/internal/model"
	"fundpage_backend/internal/repository"
	"fundpage_backend/internal/testutil"
	"fundpage_backend/pkg/utils/jwt"
)

type apiStack struct {
	app      *fiber.App
	db       *gorm.DB
	gateway  *testutil.FakeGateway
	notifier *testutil.FakeNotifier
	verifier *jwt.Verifier
}

func newAPIStack(t *testing.T) *apiStack {
	t.Helper()
	db := testutil.NewTestDB(t)
	log := zap.NewNop()

	subs := repository.NewSubscriptionRepository(db)
	cycles := repository.NewBillingCycleRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	usage := repository.NewUsageRepository(db)
	events := repository.NewWebhookEventRepository(db)
	notices := repository.NewDunningNoticeRepository(db)
	users := repository.NewUserRepository(db)
	tiers := repository.NewTierRepository(db)

	gateway := testutil.NewFakeGateway()
	notifier := testutil.NewFakeNotifier()

	lifecycle := billing.NewLifecycle(subs, cycles, usage, users, tiers, gateway, notifier, log)
	cycleManager := billing.NewCycleManager(cycles, subs, gateway, log)
	recovery := billing.NewRecovery(subs, notices, gateway, lifecycle, notifier, 24*time.Hour, log)
	processor := billing.NewWebhookProcessor("whsec_test", events, invoices, subs, lifecycle, notifier, nil, 7, log)

	verifier := jwt.NewVerifier("test-secret")
	sc := controller.NewSubscriptionController(lifecycle, recovery, cycleManager, processor, subs, tiers, log)

	app := fiber.New()
	api := app.Group("/api")
	api.Post("/webhook", sc.HandleWebhook)
	subscriptions := api.Group("/subscriptions")
	subscriptions.Get("/plans", sc.ListPlans)
	protected := subscriptions.Use(middleware.AuthMiddleware(verifier))
	protected.Post("/", sc.Create)
	protected.Get("/my", sc.GetMySubscription)
	protected.Post("/:id/cancel", sc.Cancel)
	protected.Post("/:id/pause", sc.Pause)
	protected.Get("/:id/access", sc.CheckAccess)
	protected.Get("/:id/cycles", sc.ListCycles)

	return &apiStack{app: app, db: db, gateway: gateway, notifier: notifier, verifier: verifier}
}

func (a *apiStack) request(t *testing.T, method, path string, body any, user *model.User) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		token, err := a.verifier.GenerateToken(user.ID, user.Email, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestSubscriptionRoutesRequireAuth(t *testing.T) {
	a := newAPIStack(t)

	resp := a.request(t, http.MethodPost, "/api/subscriptions/", fiber.Map{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/my?campaign_id=1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListPlans(t *testing.T) {
	a := newAPIStack(t)
	campaign := testutil.CreateCampaign(t, a.db)
	testutil.CreateTier(t, a.db, campaign.ID, 2500, 0)
	testutil.CreateTier(t, a.db, campaign.ID, 500, 0)

	resp := a.request(t, http.MethodGet, fmt.Sprintf("/api/subscriptions/plans?campaign_id=%d", campaign.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Plans []model.CampaignTier `json:"plans"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Plans, 2)
	assert.Equal(t, int64(500), body.Plans[0].Amount, "cheapest tier first")

	resp = a.request(t, http.MethodGet, "/api/subscriptions/plans", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndFetchSubscription(t *testing.T) {
	a := newAPIStack(t)
	user := testutil.CreateUser(t, a.db)
	campaign := testutil.CreateCampaign(t, a.db)
	tier := testutil.CreateTier(t, a.db, campaign.ID, 1500, 0)

	resp := a.request(t, http.MethodPost, "/api/subscriptions/", fiber.Map{
		"campaign_id": campaign.ID,
		"tier_id":     tier.ID,
	}, user)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created model.Subscription
	decodeBody(t, resp, &created)
	assert.Equal(t, model.SubscriptionStatusActive, created.Status)

	resp = a.request(t, http.MethodGet, fmt.Sprintf("/api/subscriptions/my?campaign_id=%d", campaign.ID), nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Creating again on the same campaign conflicts.
	resp = a.request(t, http.MethodPost, "/api/subscriptions/", fiber.Map{
		"campaign_id": campaign.ID,
		"tier_id":     tier.ID,
	}, user)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubscriptionOwnership(t *testing.T) {
	a := newAPIStack(t)
	owner := testutil.CreateUser(t, a.db)
	stranger := testutil.CreateUser(t, a.db)
	campaign := testutil.CreateCampaign(t, a.db)
	tier := testutil.CreateTier(t, a.db, campaign.ID, 1500, 0)
	sub := testutil.CreateSubscription(t, a.db, owner, campaign.ID, tier.ID)

	// Someone else's subscription reads as missing.
	resp := a.request(t, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/cancel", sub.ID), fiber.Map{"immediate": true}, stranger)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.request(t, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/cancel", sub.ID), fiber.Map{"immediate": true}, owner)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayFailureMapsToBadGateway(t *testing.T) {
	a := newAPIStack(t)
	user := testutil.CreateUser(t, a.db)
	campaign := testutil.CreateCampaign(t, a.db)
	tier := testutil.CreateTier(t, a.db, campaign.ID, 1500, 0)
	sub := testutil.CreateSubscription(t, a.db, user, campaign.ID, tier.ID)

	a.gateway.Errs["PauseCollection"] = fmt.Errorf("stripe is down")
	resp := a.request(t, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/pause", sub.ID), fiber.Map{"duration_days": 30}, user)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCheckAccessEndpoint(t *testing.T) {
	a := newAPIStack(t)
	user := testutil.CreateUser(t, a.db)
	campaign := testutil.CreateCampaign(t, a.db)
	tier := testutil.CreateTier(t, a.db, campaign.ID, 1500, 0)
	sub := testutil.CreateSubscription(t, a.db, user, campaign.ID, tier.ID)

	resp := a.request(t, http.MethodGet, fmt.Sprintf("/api/subscriptions/%d/access", sub.ID), nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body billing.AccessResult
	decodeBody(t, resp, &body)
	assert.True(t, body.HasAccess)
	assert.Equal(t, billing.AccessReasonActive, body.Reason)
}

func TestWebhookEndpointSignature(t *testing.T) {
	a := newAPIStack(t)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
