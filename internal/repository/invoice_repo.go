package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Upsert writes the gateway's invoice state keyed by external id, so
// redelivered invoice events settle on the same row.
func (r *InvoiceRepository) Upsert(ctx context.Context, inv *model.Invoice) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount_due", "amount_paid", "status", "period_start", "period_end", "updated_at",
		}),
	}).Create(inv).Error
}

func (r *InvoiceRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Invoice, error) {
	var inv model.Invoice
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}
