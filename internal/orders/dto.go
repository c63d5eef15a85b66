package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/outbox"
)

// LineItemInput is one requested album line.
type LineItemInput struct {
	ItemID       uuid.UUID
	SKU          string
	Name         string
	Quantity     int
	PricePerUnit decimal.Decimal
}

// PlaceInput carries everything needed to place an order. Amounts are computed
// by the caller and stored as given.
type PlaceInput struct {
	UserID          uuid.UUID
	Items           []LineItemInput
	Subtotal        decimal.Decimal
	ShippingPrice   decimal.Decimal
	Discount        decimal.Decimal
	TotalAmount     decimal.Decimal
	Currency        enums.Currency
	ShippingAddress models.ShippingAddress
	ShippingMethod  enums.ShippingMethod
	PaymentMethod   enums.PaymentMethod
	Actor           *outbox.ActorRef
}

// CancelInput identifies the order to cancel. When OwnerID is set the order
// must belong to that user.
type CancelInput struct {
	Ref     string
	OwnerID uuid.UUID
	Reason  string
	Actor   *outbox.ActorRef
}

// UpdateStatusInput is the admin status change request.
type UpdateStatusInput struct {
	Ref    string
	Status string
	Actor  *outbox.ActorRef
}

// PaymentOutcome is a verified gateway settlement result for one order.
type PaymentOutcome struct {
	OrderRef   string
	Succeeded  bool
	ResultCode int
	TransID    string
	Amount     decimal.Decimal
	Raw        json.RawMessage
}

// ListFilters narrows order listings.
type ListFilters struct {
	UserID *uuid.UUID
	Status *enums.OrderStatus
}

// LineItemDTO is the API shape of a line item.
type LineItemDTO struct {
	ItemID       uuid.UUID       `json:"item_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// OrderDTO is the API shape of an order.
type OrderDTO struct {
	ID              uuid.UUID              `json:"id"`
	OrderCode       string                 `json:"order_code"`
	UserID          uuid.UUID              `json:"user_id"`
	OrderDate       time.Time              `json:"order_date"`
	Items           []LineItemDTO          `json:"items"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	ShippingPrice   decimal.Decimal        `json:"shipping_price"`
	Discount        decimal.Decimal        `json:"discount"`
	TotalAmount     decimal.Decimal        `json:"total_amount"`
	Currency        enums.Currency         `json:"currency"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	ShippingMethod  enums.ShippingMethod   `json:"shipping_method"`
	PaymentMethod   enums.PaymentMethod    `json:"payment_method"`
	Status          enums.OrderStatus      `json:"status"`
	PaymentResult   json.RawMessage        `json:"payment_result,omitempty"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	ShippedAt       *time.Time             `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// NewOrderDTO maps a persisted order to its API shape.
func NewOrderDTO(order *models.Order) OrderDTO {
	items := make([]LineItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItemDTO{
			ItemID:       item.ItemID,
			SKU:          item.SKU,
			Name:         item.Name,
			Quantity:     item.Quantity,
			PricePerUnit: item.PricePerUnit,
		})
	}
	return OrderDTO{
		ID:              order.ID,
		OrderCode:       order.OrderCode,
		UserID:          order.UserID,
		OrderDate:       order.OrderDate,
		Items:           items,
		Subtotal:        order.Subtotal,
		ShippingPrice:   order.ShippingPrice,
		Discount:        order.Discount,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		ShippingMethod:  order.ShippingMethod,
		PaymentMethod:   order.PaymentMethod,
		Status:          order.Status,
		PaymentResult:   order.PaymentResult,
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
