package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musicx/musicx-backend/pkg/enums"
)

// OrderLine is the line-item snapshot carried by order events.
type OrderLine struct {
	ItemID       uuid.UUID       `json:"item_id"`
	SKU          string          `json:"sku,omitempty"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// OrderPlacedEvent is emitted once an order and its reservations are committed.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderCode     string              `json:"order_code"`
	UserID        uuid.UUID           `json:"user_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Currency      enums.Currency      `json:"currency"`
	Items         []OrderLine         `json:"items"`
	PlacedAt      time.Time           `json:"placed_at"`
}

// OrderStatusChangedEvent records any non-cancelling transition.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	OrderCode string            `json:"order_code"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	ChangedAt time.Time         `json:"changed_at"`
}

// OrderCancelledEvent is emitted after stock for every line has been released.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderCode   string            `json:"order_code"`
	From        enums.OrderStatus `json:"from"`
	Reason      string            `json:"reason"`
	Restocked   []OrderLine       `json:"restocked"`
	CancelledAt time.Time         `json:"cancelled_at"`
}

// PaymentOutcomeEvent carries gateway settlement results (paid or failed).
type PaymentOutcomeEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	OrderCode  string            `json:"order_code"`
	Status     enums.OrderStatus `json:"status"`
	ResultCode int               `json:"result_code"`
	TransID    string            `json:"trans_id,omitempty"`
	Amount     decimal.Decimal   `json:"amount"`
	OccurredAt time.Time         `json:"occurred_at"`
}
