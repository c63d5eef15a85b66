package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderPlaced        OutboxEventType = "order_placed"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventPaymentFailed      OutboxEventType = "payment_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderStatusChanged,
	EventOrderCancelled,
	EventOrderPaid,
	EventPaymentFailed,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
