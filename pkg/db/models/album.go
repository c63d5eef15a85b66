package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Album is the sellable catalog entry whose stock counter backs the inventory ledger.
type Album struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Title     string          `gorm:"column:title;not null"`
	SKU       string          `gorm:"column:sku;not null;default:''"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	Stock     int             `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Album) TableName() string { return "albums" }

func (a *Album) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
