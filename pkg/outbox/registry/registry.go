// Package registry decides where each outbox row goes and checks that its
// payload still decodes into the shape consumers expect.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/outbox/payloads"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a delivery failure no retry can fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Route is a resolved outbox row, ready to hand to a publisher.
type Route struct {
	Topic string
	// OrderingKey keeps events of one order in emit order on the topic.
	OrderingKey string
	Attributes  map[string]string
	Envelope    outbox.PayloadEnvelope
	Payload     any
}

type binding struct {
	aggregate enums.OutboxAggregateType
	topic     string
	newData   func() any
}

type Registry struct {
	bindings map[enums.OutboxEventType]binding
}

// New binds every order event to the orders topic.
func New(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	orderEvents := map[enums.OutboxEventType]func() any{
		enums.EventOrderPlaced:        func() any { return &payloads.OrderPlacedEvent{} },
		enums.EventOrderStatusChanged: func() any { return &payloads.OrderStatusChangedEvent{} },
		enums.EventOrderCancelled:     func() any { return &payloads.OrderCancelledEvent{} },
		enums.EventOrderPaid:          func() any { return &payloads.PaymentOutcomeEvent{} },
		enums.EventPaymentFailed:      func() any { return &payloads.PaymentOutcomeEvent{} },
	}
	r := &Registry{bindings: make(map[enums.OutboxEventType]binding, len(orderEvents))}
	for eventType, newData := range orderEvents {
		r.bindings[eventType] = binding{aggregate: enums.AggregateOrder, topic: cfg.OrdersTopic, newData: newData}
	}
	return r, nil
}

// Topics lists the distinct topics events can be routed to.
func (r *Registry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, b := range r.bindings {
		if _, ok := seen[b.topic]; ok {
			continue
		}
		seen[b.topic] = struct{}{}
		topics = append(topics, b.topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve maps event to its route. Every error it returns is Permanent: a row
// that cannot be routed today will not route on the next attempt either.
func (r *Registry) Resolve(event models.OutboxEvent) (*Route, error) {
	b, ok := r.bindings[event.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("no route for event type %q", event.EventType))
	}
	if b.aggregate != event.AggregateType {
		return nil, Permanent(fmt.Errorf("%s expects aggregate %s, row has %s", event.EventType, b.aggregate, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := b.newData()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &Route{
		Topic:       b.topic,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       env.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
			"schema_version": strconv.Itoa(env.Version),
		},
		Envelope: env,
		Payload:  payload,
	}, nil
}
