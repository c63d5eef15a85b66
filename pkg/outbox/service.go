package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/logger"
)

// DomainEvent is a state change worth telling other systems about. Data is
// marshalled to JSON and wrapped in a PayloadEnvelope.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	var err error
	if !e.EventType.IsValid() {
		err = multierr.Append(err, fmt.Errorf("unknown event type %q", e.EventType))
	}
	if !e.AggregateType.IsValid() {
		err = multierr.Append(err, fmt.Errorf("unknown aggregate type %q", e.AggregateType))
	}
	if e.AggregateID == uuid.Nil {
		err = multierr.Append(err, errors.New("aggregate id required"))
	}
	return err
}

// Service writes events to the outbox table. Delivery is the relay's job.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit inserts the event through tx, so the row exists only if the caller's
// state change commits too.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if err := event.validate(); err != nil {
		return fmt.Errorf("outbox event: %w", err)
	}

	envelope, err := s.seal(event)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event.EventType, err)
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     envelope.EventID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID.String(),
		}), "outbox.queued")
	}
	return nil
}

// seal stamps the envelope fields the caller may leave blank. Event ids are
// UUIDv7 so they sort by creation time.
func (s *Service) seal(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("event id: %w", err)
	}

	env := PayloadEnvelope{
		Version:     event.Version,
		EventID:     id.String(),
		EventType:   event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  event.OccurredAt.UTC(),
		Actor:       event.Actor,
		Data:        data,
	}
	if env.Version == 0 {
		env.Version = currentEnvelopeVersion
	}
	if event.OccurredAt.IsZero() {
		env.OccurredAt = s.now().UTC()
	}
	return env, nil
}
