package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLineItem snapshots one album line at placement time.
type OrderLineItem struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	Position     int             `gorm:"column:position;not null"`
	ItemID       uuid.UUID       `gorm:"column:item_id;type:uuid;not null"`
	SKU          string          `gorm:"column:sku;not null;default:''"`
	Name         string          `gorm:"column:name;not null"`
	Quantity     int             `gorm:"column:quantity;not null;check:quantity >= 1"`
	PricePerUnit decimal.Decimal `gorm:"column:price_per_unit;type:numeric(12,2);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLineItem) TableName() string { return "order_line_items" }

func (li *OrderLineItem) BeforeCreate(*gorm.DB) error {
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	return nil
}
