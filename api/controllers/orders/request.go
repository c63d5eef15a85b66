package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musicx/musicx-backend/api/validators"
	internalorders "github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/outbox"
)

type lineItemRequest struct {
	ItemID       uuid.UUID       `json:"item_id" validate:"required"`
	SKU          string          `json:"sku" validate:"max=64"`
	Name         string          `json:"name" validate:"max=255"`
	Quantity     int             `json:"quantity" validate:"gt=0"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" validate:"gte=0"`
}

type shippingAddressRequest struct {
	Recipient string `json:"recipient" validate:"required,max=255"`
	Street    string `json:"street" validate:"required,max=255"`
	City      string `json:"city" validate:"required,max=128"`
	Country   string `json:"country" validate:"required,max=64"`
}

// PlaceOrderRequest is the checkout body shared by direct placement and the
// gateway payment link.
type PlaceOrderRequest struct {
	Items           []lineItemRequest      `json:"items" validate:"required,min=1,dive"`
	Subtotal        decimal.Decimal        `json:"subtotal" validate:"gte=0"`
	ShippingPrice   decimal.Decimal        `json:"shipping_price" validate:"gte=0"`
	Discount        decimal.Decimal        `json:"discount" validate:"gte=0"`
	TotalAmount     decimal.Decimal        `json:"total_amount" validate:"gte=0"`
	Currency        string                 `json:"currency" validate:"omitempty,oneof=VND USD"`
	ShippingAddress shippingAddressRequest `json:"shipping_address"`
	ShippingMethod  string                 `json:"shipping_method" validate:"required,oneof=standard express"`
	PaymentMethod   string                 `json:"payment_method" validate:"omitempty,oneof=cod card gateway"`
}

// ToInput maps the request onto the service input for userID.
func (req PlaceOrderRequest) ToInput(userID uuid.UUID, actor *outbox.ActorRef) internalorders.PlaceInput {
	items := make([]internalorders.LineItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, internalorders.LineItemInput{
			ItemID:       item.ItemID,
			SKU:          validators.SanitizeString(item.SKU, 64),
			Name:         validators.SanitizeString(item.Name, 255),
			Quantity:     item.Quantity,
			PricePerUnit: item.PricePerUnit,
		})
	}
	currency := enums.CurrencyVND
	if req.Currency != "" {
		currency = enums.Currency(req.Currency)
	}
	method := enums.PaymentMethodCOD
	if req.PaymentMethod != "" {
		method = enums.PaymentMethod(req.PaymentMethod)
	}
	return internalorders.PlaceInput{
		UserID:        userID,
		Items:         items,
		Subtotal:      req.Subtotal,
		ShippingPrice: req.ShippingPrice,
		Discount:      req.Discount,
		TotalAmount:   req.TotalAmount,
		Currency:      currency,
		ShippingAddress: models.ShippingAddress{
			Recipient: validators.SanitizeString(req.ShippingAddress.Recipient, 255),
			Street:    validators.SanitizeString(req.ShippingAddress.Street, 255),
			City:      validators.SanitizeString(req.ShippingAddress.City, 128),
			Country:   validators.SanitizeString(req.ShippingAddress.Country, 64),
		},
		ShippingMethod: enums.ShippingMethod(req.ShippingMethod),
		PaymentMethod:  method,
		Actor:          actor,
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
