package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/enums"
)

// ShippingAddress is embedded on the order row as JSON.
type ShippingAddress struct {
	Recipient string `json:"recipient"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// Order is the placed order aggregate.
type Order struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderCode       string               `gorm:"column:order_code;not null;uniqueIndex:orders_order_code_key"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	OrderDate       time.Time            `gorm:"column:order_date;not null"`
	Items           []OrderLineItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Subtotal        decimal.Decimal      `gorm:"column:subtotal;type:numeric(12,2);not null"`
	ShippingPrice   decimal.Decimal      `gorm:"column:shipping_price;type:numeric(12,2);not null;default:0"`
	Discount        decimal.Decimal      `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	TotalAmount     decimal.Decimal      `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency        enums.Currency       `gorm:"column:currency;type:varchar(3);not null"`
	ShippingAddress ShippingAddress      `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	ShippingMethod  enums.ShippingMethod `gorm:"column:shipping_method;type:varchar(16);not null"`
	PaymentMethod   enums.PaymentMethod  `gorm:"column:payment_method;type:varchar(16);not null"`
	Status          enums.OrderStatus    `gorm:"column:status;type:varchar(32);not null;index"`
	PaymentResult   json.RawMessage      `gorm:"column:payment_result;type:jsonb"`
	PaidAt          *time.Time           `gorm:"column:paid_at"`
	ShippedAt       *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time           `gorm:"column:delivered_at"`
	CancelledAt     *time.Time           `gorm:"column:cancelled_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
