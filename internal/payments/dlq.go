package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
)

const maxDLQErrorLength = 2048

// DLQRepository persists notifications that were acknowledged but not applied.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) Insert(ctx context.Context, entry *models.PaymentNotifyDLQ) error {
	if entry.Status == "" {
		entry.Status = enums.NotifyDLQStatusPending
	}
	entry.ErrorMessage = truncate(entry.ErrorMessage)
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListReplayable returns pending entries whose reason allows an automatic retry.
func (r *DLQRepository) ListReplayable(ctx context.Context, maxAttempts, limit int) ([]models.PaymentNotifyDLQ, error) {
	reasons := make([]enums.NotifyDLQReason, 0, 2)
	for _, reason := range []enums.NotifyDLQReason{
		enums.NotifyDLQReasonStateConflict,
		enums.NotifyDLQReasonStorage,
		enums.NotifyDLQReasonUnknown,
	} {
		if reason.Replayable() {
			reasons = append(reasons, reason)
		}
	}
	var rows []models.PaymentNotifyDLQ
	query := r.db.WithContext(ctx).
		Where("status = ? AND reason IN ? AND attempt_count < ?", enums.NotifyDLQStatusPending, reasons, maxAttempts).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByStatus is used by operators to inspect entries.
func (r *DLQRepository) ListByStatus(ctx context.Context, status enums.NotifyDLQStatus, limit int) ([]models.PaymentNotifyDLQ, error) {
	var rows []models.PaymentNotifyDLQ
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DLQRepository) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentNotifyDLQ{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.NotifyDLQStatusResolved,
			"resolved_at":   at,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// RecordFailure bumps the attempt counter and marks the entry exhausted once
// no retries remain.
func (r *DLQRepository) RecordFailure(ctx context.Context, id uuid.UUID, cause error, exhausted bool) error {
	updates := map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"error_message": truncate(cause.Error()),
	}
	if exhausted {
		updates["status"] = enums.NotifyDLQStatusExhausted
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentNotifyDLQ{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func truncate(message string) string {
	if len(message) <= maxDLQErrorLength {
		return message
	}
	return message[:maxDLQErrorLength]
}
