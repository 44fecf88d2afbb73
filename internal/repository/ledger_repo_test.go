package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
	"fundpage_backend/internal/repository"
	"fundpage_backend/internal/testutil"
)

func TestBillingCycleRepositoryAppend(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := repository.NewBillingCycleRepository(db)

	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	require.NoError(t, repo.Append(ctx, &model.BillingCycle{
		SubscriptionID: 1,
		PeriodStart:    start,
		PeriodEnd:      end,
		AmountBilled:   1500,
		Status:         model.BillingCycleStatusCompleted,
		InvoiceRef:     "in_1",
	}))

	t.Run("overlap conflicts", func(t *testing.T) {
		err := repo.Append(ctx, &model.BillingCycle{
			SubscriptionID: 1,
			PeriodStart:    start.AddDate(0, 0, 10),
			PeriodEnd:      end.AddDate(0, 0, 10),
			Status:         model.BillingCycleStatusCompleted,
		})
		assert.ErrorIs(t, err, billing.ErrConflict)
	})

	t.Run("touching boundaries do not overlap", func(t *testing.T) {
		require.NoError(t, repo.Append(ctx, &model.BillingCycle{
			SubscriptionID: 1,
			PeriodStart:    end,
			PeriodEnd:      end.AddDate(0, 1, 0),
			Status:         model.BillingCycleStatusCompleted,
		}))
	})

	t.Run("inverted period is invalid", func(t *testing.T) {
		err := repo.Append(ctx, &model.BillingCycle{
			SubscriptionID: 1,
			PeriodStart:    end,
			PeriodEnd:      start,
			Status:         model.BillingCycleStatusCompleted,
		})
		assert.ErrorIs(t, err, billing.ErrValidation)
	})

	t.Run("list is ordered by period start", func(t *testing.T) {
		rows, err := repo.ListBySubscription(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].PeriodStart.Before(rows[1].PeriodStart))
	})
}

func TestWebhookEventRepositoryClaim(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := repository.NewWebhookEventRepository(db)

	require.NoError(t, repo.Claim(ctx, "evt_1", "invoice.paid"))

	err := repo.Claim(ctx, "evt_1", "invoice.paid")
	assert.ErrorIs(t, err, billing.ErrConflict)

	require.NoError(t, repo.Claim(ctx, "evt_2", "invoice.paid"))

	t.Run("mark processed records outcome", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, "evt_1", nil))
		require.NoError(t, repo.MarkProcessed(ctx, "evt_2", errors.New("handler blew up")))

		var ok, failed model.WebhookEvent
		require.NoError(t, db.Where("external_id = ?", "evt_1").First(&ok).Error)
		require.NoError(t, db.Where("external_id = ?", "evt_2").First(&failed).Error)

		assert.NotNil(t, ok.ProcessedAt)
		assert.Empty(t, ok.ProcessingError)
		assert.Equal(t, "handler blew up", failed.ProcessingError)
		assert.Nil(t, failed.ProcessedAt, "a failed attempt does not settle the claim")
	})

	t.Run("failed claim is re-admitted once", func(t *testing.T) {
		// evt_2 carries a processing error, so a redelivery reclaims it.
		require.NoError(t, repo.Claim(ctx, "evt_2", "invoice.paid"))

		var event model.WebhookEvent
		require.NoError(t, db.Where("external_id = ?", "evt_2").First(&event).Error)
		assert.Empty(t, event.ProcessingError)

		// Reclaimed and in flight again: further copies conflict.
		err := repo.Claim(ctx, "evt_2", "invoice.paid")
		assert.ErrorIs(t, err, billing.ErrConflict)
	})

	t.Run("successfully processed claim stays settled", func(t *testing.T) {
		err := repo.Claim(ctx, "evt_1", "invoice.paid")
		assert.ErrorIs(t, err, billing.ErrConflict)
	})
}

func TestDunningNoticeRepositoryRecord(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := repository.NewDunningNoticeRepository(db)

	day := time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, 1, model.DunningNoticeGraceWarning, day))

	// Same subscription, kind and calendar day: deduped.
	err := repo.Record(ctx, 1, model.DunningNoticeGraceWarning, day.Add(5*time.Hour))
	assert.ErrorIs(t, err, billing.ErrConflict)

	// Different kind or day passes.
	require.NoError(t, repo.Record(ctx, 1, model.DunningNoticePaymentFailed, day))
	require.NoError(t, repo.Record(ctx, 1, model.DunningNoticeGraceWarning, day.AddDate(0, 0, 1)))
	require.NoError(t, repo.Record(ctx, 2, model.DunningNoticeGraceWarning, day))
}

func TestInvoiceRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := repository.NewInvoiceRepository(db)

	inv := &model.Invoice{
		ExternalID:     "in_1",
		SubscriptionID: 1,
		AmountDue:      1500,
		Status:         model.InvoiceStatusOpen,
	}
	require.NoError(t, repo.Upsert(ctx, inv))

	// Redelivery with newer state lands on the same row.
	require.NoError(t, repo.Upsert(ctx, &model.Invoice{
		ExternalID:     "in_1",
		SubscriptionID: 1,
		AmountDue:      1500,
		AmountPaid:     1500,
		Status:         model.InvoiceStatusPaid,
	}))

	var count int64
	db.Model(&model.Invoice{}).Count(&count)
	assert.EqualValues(t, 1, count)

	got, err := repo.GetByExternalID(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, got.Status)
	assert.Equal(t, int64(1500), got.AmountPaid)

	_, err = repo.GetByExternalID(ctx, "in_missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestUsageRepositorySum(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := repository.NewUsageRepository(db)

	base := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	add := func(subID uint, metric string, qty int64, at time.Time) {
		require.NoError(t, repo.Append(ctx, &model.UsageRecord{
			SubscriptionID: subID,
			Metric:         metric,
			Quantity:       qty,
			RecordedAt:     at,
		}))
	}

	add(1, "api_calls", 10, base.Add(1*time.Hour))
	add(1, "api_calls", 5, base.Add(2*time.Hour))
	add(1, "storage_gb", 99, base.Add(3*time.Hour))
	add(2, "api_calls", 7, base.Add(1*time.Hour))
	add(1, "api_calls", 100, base.AddDate(0, 1, 0)) // next window

	total, err := repo.Sum(ctx, 1, "api_calls", base, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)

	empty, err := repo.Sum(ctx, 3, "api_calls", base, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Zero(t, empty)
}
