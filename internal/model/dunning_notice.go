package model

import (
	"time"

	"gorm.io/gorm"
)

type DunningNoticeKind string

const (
	DunningNoticeGraceWarning  DunningNoticeKind = "grace_warning"
	DunningNoticePaymentFailed DunningNoticeKind = "payment_failed"
)

// DunningNotice tracks sent dunning notifications so batch sweeps never
// double-send within the same window. NoticeDate is the UTC calendar day.
type DunningNotice struct {
	gorm.Model
	SubscriptionID uint              `json:"subscription_id" gorm:"not null;uniqueIndex:ux_dunning_notices_window,priority:1"`
	Kind           DunningNoticeKind `json:"kind" gorm:"type:varchar(30);not null;uniqueIndex:ux_dunning_notices_window,priority:2"`
	NoticeDate     time.Time         `json:"notice_date" gorm:"not null;uniqueIndex:ux_dunning_notices_window,priority:3"`
}
