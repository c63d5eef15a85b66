package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/musicx/musicx-backend/pkg/db/models"
)

var errTxRequired = errors.New("transaction required")

// Repository owns the outbox_events table. Every write except Purge runs in a
// caller transaction: Insert alongside the order change it describes, the
// publish bookkeeping alongside the claim that locked the row.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// Claim returns up to limit unpublished rows below the attempt ceiling, oldest
// first. On postgres the rows stay locked until tx ends and other relays skip them.
func (r *Repository) Claim(tx *gorm.DB, limit, ceiling int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Where("published_at IS NULL")
	if ceiling > 0 {
		q = q.Where("attempt_count < ?", ceiling)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(tx, id, map[string]any{"published_at": at.UTC()})
}

// RecordAttempt counts one failed delivery and keeps the row claimable.
func (r *Repository) RecordAttempt(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Park pins the row at the attempt ceiling so Claim never returns it again.
// Parked rows are expected to have a matching outbox_dlq entry.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": ceiling,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values).Error
}

// Purge deletes at most limit rows created before cutoff that are either
// published or parked at ceiling. Callers loop until it returns less than limit.
func (r *Repository) Purge(ctx context.Context, cutoff time.Time, ceiling, limit int) (int64, error) {
	ids := r.db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Where("published_at IS NOT NULL OR attempt_count >= ?", ceiling).
		Order("created_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// Backlog counts rows that still have to be published.
func (r *Repository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&n).Error
	return n, err
}
