package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod describes how a buyer intends to settle an order.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodCard    PaymentMethod = "card"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCOD,
	PaymentMethodGateway,
	PaymentMethodCard,
}

// aliases accepted from storefront clients.
var paymentMethodAliases = map[string]PaymentMethod{
	"cash_on_delivery": PaymentMethodCOD,
	"cash-on-delivery": PaymentMethodCOD,
	"momo":             PaymentMethodGateway,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsAsync reports whether settlement arrives through gateway callbacks.
func (p PaymentMethod) IsAsync() bool {
	return p == PaymentMethodGateway
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	if alias, ok := paymentMethodAliases[normalized]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
