package model

import "gorm.io/gorm"

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusLive     CampaignStatus = "live"
	CampaignStatusEnded    CampaignStatus = "ended"
	CampaignStatusArchived CampaignStatus = "archived"
)

// Campaign is the subscribable offering. Creation, funding goals and page
// content are managed by the main platform; billing only reads these rows.
type Campaign struct {
	gorm.Model
	OwnerID uint           `json:"owner_id" gorm:"not null;index"`
	Title   string         `json:"title" gorm:"not null"`
	Slug    string         `json:"slug" gorm:"uniqueIndex;not null"`
	Status  CampaignStatus `json:"status" gorm:"type:varchar(20);not null;default:'live'"`

	Tiers []CampaignTier `json:"tiers"`
}

// CampaignTier is a recurring pledge level with its gateway price mapping.
type CampaignTier struct {
	gorm.Model
	CampaignID uint   `json:"campaign_id" gorm:"not null;index"`
	Name       string `json:"name" gorm:"not null"`
	Amount     int64  `json:"amount" gorm:"not null"` // minor currency units per interval
	Currency   string `json:"currency" gorm:"type:varchar(3);not null;default:'usd'"`
	Interval   string `json:"interval" gorm:"type:varchar(10);not null;default:'month'"`
	TrialDays  int    `json:"trial_days" gorm:"not null;default:0"`

	GatewayPriceID string `json:"gateway_price_id" gorm:"index"`
}
