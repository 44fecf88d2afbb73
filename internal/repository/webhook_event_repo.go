package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Claim reserves an event id for processing. A second claim of the same id
// hits the unique index; if the earlier attempt finished (processed_at set)
// or is still in flight, the claim returns ErrConflict. A row whose handler
// failed (processing_error set, processed_at empty) is re-admitted so the
// gateway's redelivery can run the handler again.
func (r *WebhookEventRepository) Claim(ctx context.Context, externalID, eventType string) error {
	event := model.WebhookEvent{
		ExternalID: externalID,
		EventType:  eventType,
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.readmit(ctx, externalID)
		}
		return err
	}
	return nil
}

// readmit atomically takes over a previously-failed row. Zero rows matched
// means the event was processed (or still is being) and stays claimed.
func (r *WebhookEventRepository) readmit(ctx context.Context, externalID string) error {
	res := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("external_id = ? AND processed_at IS NULL AND processing_error <> ''", externalID).
		Update("processing_error", "")
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billing.ErrConflict
	}
	return nil
}

// MarkProcessed closes out a claim. On success processed_at is stamped; on
// failure only processing_error is recorded, leaving processed_at empty so
// a redelivered copy of the event can reclaim the row.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, externalID string, processingErr error) error {
	if processingErr != nil {
		return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
			Where("external_id = ?", externalID).
			Update("processing_error", processingErr.Error()).Error
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{"processed_at": now, "processing_error": ""}).Error
}
