package orders

import "github.com/musicx/musicx-backend/pkg/enums"

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:        {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusPendingPayment: {enums.OrderStatusPaid, enums.OrderStatusFailed, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:           {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:        {enums.OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// InitialStatus returns the status a freshly placed order starts in.
func InitialStatus(method enums.PaymentMethod) enums.OrderStatus {
	if method.IsAsync() {
		return enums.OrderStatusPendingPayment
	}
	return enums.OrderStatusPending
}
