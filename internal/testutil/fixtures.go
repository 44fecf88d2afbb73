package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"fundpage_backend/internal/model"
)

var fixtureSeq int

func nextSeq() int {
	fixtureSeq++
	return fixtureSeq
}

func CreateUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	n := nextSeq()
	user := &model.User{
		Email:             fmt.Sprintf("backer%d@example.com", n),
		Username:          fmt.Sprintf("backer%d", n),
		FirstName:         "Test",
		LastName:          "Backer",
		GatewayCustomerID: fmt.Sprintf("cus_test%d", n),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user fixture: %v", err)
	}
	return user
}

func CreateCampaign(t *testing.T, db *gorm.DB) *model.Campaign {
	t.Helper()
	n := nextSeq()
	campaign := &model.Campaign{
		OwnerID: 1,
		Title:   fmt.Sprintf("Campaign %d", n),
		Slug:    fmt.Sprintf("campaign-%d", n),
		Status:  model.CampaignStatusLive,
	}
	if err := db.Create(campaign).Error; err != nil {
		t.Fatalf("create campaign fixture: %v", err)
	}
	return campaign
}

func CreateTier(t *testing.T, db *gorm.DB, campaignID uint, amount int64, trialDays int) *model.CampaignTier {
	t.Helper()
	n := nextSeq()
	tier := &model.CampaignTier{
		CampaignID:     campaignID,
		Name:           fmt.Sprintf("Tier %d", n),
		Amount:         amount,
		Currency:       "usd",
		Interval:       "month",
		TrialDays:      trialDays,
		GatewayPriceID: fmt.Sprintf("price_test%d", n),
	}
	if err := db.Create(tier).Error; err != nil {
		t.Fatalf("create tier fixture: %v", err)
	}
	return tier
}

// CreateSubscription persists an active subscription with a period around
// now. Callers mutate the returned row and save for other states.
func CreateSubscription(t *testing.T, db *gorm.DB, user *model.User, campaignID, tierID uint) *model.Subscription {
	t.Helper()
	n := nextSeq()
	now := time.Now().UTC()
	sub := &model.Subscription{
		UserID:                user.ID,
		CampaignID:            campaignID,
		TierID:                tierID,
		Quantity:              1,
		Status:                model.SubscriptionStatusActive,
		GatewaySubscriptionID: fmt.Sprintf("sub_test%d", n),
		GatewayPriceID:        fmt.Sprintf("price_test%d", n),
		CurrentPeriodStart:    now.AddDate(0, 0, -10),
		CurrentPeriodEnd:      now.AddDate(0, 0, 20),
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("create subscription fixture: %v", err)
	}
	return sub
}
