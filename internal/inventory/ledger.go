// Package inventory owns the per-album stock counters. Every stock mutation in
// the service goes through a Ledger; nothing else writes albums.stock.
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/db/models"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
)

// Line is one (item, quantity) pair checked or reserved by the ledger.
type Line struct {
	ItemID   uuid.UUID
	Quantity int
}

// StockShortage is attached as details to INSUFFICIENT_STOCK errors.
type StockShortage struct {
	ItemID    uuid.UUID `json:"item_id"`
	Item      string    `json:"item"`
	Available int       `json:"available"`
	Requested int       `json:"requested"`
}

// Store is the stock surface other packages depend on.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Get(ctx context.Context, itemID uuid.UUID) (*models.Album, error)
	CheckAvailability(ctx context.Context, lines []Line) (map[uuid.UUID]*models.Album, error)
	Adjust(ctx context.Context, itemID uuid.UUID, delta int) (int, error)
	Reserve(ctx context.Context, itemID uuid.UUID, quantity int) (int, error)
	Release(ctx context.Context, itemID uuid.UUID, quantity int) (int, error)
}

// Ledger applies atomic stock adjustments to albums.
type Ledger struct {
	db    *gorm.DB
	bound bool
}

// NewLedger builds a ledger over the shared connection.
func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{db: conn}
}

// WithTx returns a ledger whose operations run inside tx.
func (l *Ledger) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, bound: true}
}

// Get loads an album by id.
func (l *Ledger) Get(ctx context.Context, itemID uuid.UUID) (*models.Album, error) {
	var album models.Album
	if err := l.db.WithContext(ctx).Where("id = ?", itemID).First(&album).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, itemNotFound(itemID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "load album")
	}
	return &album, nil
}

// CheckAvailability verifies every line against current stock without mutating
// anything and reports the first failing line. The returned map holds the
// loaded albums keyed by id.
func (l *Ledger) CheckAvailability(ctx context.Context, lines []Line) (map[uuid.UUID]*models.Album, error) {
	albums := make(map[uuid.UUID]*models.Album, len(lines))
	requested := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"item_id": line.ItemID, "quantity": line.Quantity})
		}
		album, ok := albums[line.ItemID]
		if !ok {
			loaded, err := l.Get(ctx, line.ItemID)
			if err != nil {
				return nil, err
			}
			album = loaded
			albums[line.ItemID] = album
		}
		// repeated lines for one album draw from the same counter
		requested[line.ItemID] += line.Quantity
		if album.Stock < requested[line.ItemID] {
			return nil, insufficientStock(album, requested[line.ItemID])
		}
	}
	return albums, nil
}

// Adjust applies delta to the stock counter as one storage-level increment and
// returns the resulting value. It does not enforce the zero floor; the column
// check constraint rejects a negative result.
func (l *Ledger) Adjust(ctx context.Context, itemID uuid.UUID, delta int) (int, error) {
	var stock int
	err := l.run(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Album{}).
			Where("id = ?", itemID).
			Update("stock", gorm.Expr("stock + ?", delta))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, res.Error, "adjust stock")
		}
		if res.RowsAffected == 0 {
			return itemNotFound(itemID)
		}
		return l.readStock(tx, itemID, &stock)
	})
	return stock, err
}

// Reserve decrements stock by quantity only if enough is available, in a single
// conditional update. It returns the remaining stock.
func (l *Ledger) Reserve(ctx context.Context, itemID uuid.UUID, quantity int) (int, error) {
	if quantity < 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	var stock int
	err := l.run(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Album{}).
			Where("id = ? AND stock >= ?", itemID, quantity).
			Update("stock", gorm.Expr("stock - ?", quantity))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, res.Error, "reserve stock")
		}
		if res.RowsAffected == 0 {
			var album models.Album
			if err := tx.Where("id = ?", itemID).First(&album).Error; err != nil {
				if db.IsNotFound(err) {
					return itemNotFound(itemID)
				}
				return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "load album")
			}
			return insufficientStock(&album, quantity)
		}
		return l.readStock(tx, itemID, &stock)
	})
	return stock, err
}

// Release returns quantity units to stock. Restocking is always allowed.
func (l *Ledger) Release(ctx context.Context, itemID uuid.UUID, quantity int) (int, error) {
	if quantity < 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	return l.Adjust(ctx, itemID, quantity)
}

func (l *Ledger) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if l.bound {
		return fn(l.db.WithContext(ctx))
	}
	return l.db.WithContext(ctx).Transaction(fn)
}

func (l *Ledger) readStock(tx *gorm.DB, itemID uuid.UUID, out *int) error {
	if err := tx.Model(&models.Album{}).Select("stock").Where("id = ?", itemID).Scan(out).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "read stock")
	}
	return nil
}

func itemNotFound(itemID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeItemNotFound, fmt.Sprintf("item %s not found", itemID)).
		WithDetails(map[string]any{"item_id": itemID})
}

func insufficientStock(album *models.Album, requested int) error {
	return pkgerrors.New(
		pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for %q: available %d, requested %d", album.Title, album.Stock, requested),
	).WithDetails(StockShortage{
		ItemID:    album.ID,
		Item:      album.Title,
		Available: album.Stock,
		Requested: requested,
	})
}
