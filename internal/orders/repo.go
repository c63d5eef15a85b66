package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCode(ctx context.Context, code string) (*models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Order, string, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(q *gorm.DB) *gorm.DB {
		return q.Order("position ASC")
	})
}

// Create inserts the order and its line items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).Where("order_code = ?", code).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionStatus moves the order to `to` only while it is still in `from`.
// It reports false when another writer changed the status first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Order, string, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := preloadItems(r.db.WithContext(ctx)).Model(&models.Order{})
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(params.Fetch()).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	rows, next := pagination.Trim(rows, params, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return rows, next, nil
}

// FindPendingPaymentBefore returns orders still awaiting gateway settlement that
// were created before cutoff, oldest first.
func (r *repository) FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := preloadItems(r.db.WithContext(ctx)).
		Where("status = ? AND created_at < ?", enums.OrderStatusPendingPayment, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes the order; line items cascade.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	err := r.db.WithContext(ctx).Where("order_id = ?", id).Delete(&models.OrderLineItem{}).Error
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Order{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
