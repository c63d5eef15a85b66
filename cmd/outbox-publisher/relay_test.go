package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/db/dbtest"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/outbox/payloads"
	"github.com/musicx/musicx-backend/pkg/outbox/registry"
	"github.com/musicx/musicx-backend/pkg/pubsub"
)

type fakeSink struct {
	// errs is consumed one per Send; nil entries succeed.
	errs []error
	sent []sentMessage
}

type sentMessage struct {
	topic string
	msg   *gcppubsub.Message
}

func (s *fakeSink) Ping(context.Context) error { return nil }

func (s *fakeSink) Send(_ context.Context, topic string, msg *gcppubsub.Message) (string, error) {
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	if err != nil {
		return "", err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, msg: msg})
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

type relayFixture struct {
	client *db.Client
	repo   *outbox.Repository
	sink   *fakeSink
	relay  *Relay
}

func newRelayFixture(t *testing.T, maxAttempts int) *relayFixture {
	t.Helper()
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	router, err := registry.New(config.PubSubConfig{OrdersTopic: "orders-topic"})
	require.NoError(t, err)
	sink := &fakeSink{}
	relay, err := NewRelay(RelayParams{
		Outbox:      config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts},
		Logger:      logger.Nop(),
		DB:          client,
		Events:      repo,
		DeadLetters: outbox.NewDeadLetters(),
		Router:      router,
		Sink:        sink,
	})
	require.NoError(t, err)
	return &relayFixture{client: client, repo: repo, sink: sink, relay: relay}
}

func (f *relayFixture) emit(t *testing.T, eventType enums.OutboxEventType, data any) uuid.UUID {
	t.Helper()
	orderID := uuid.New()
	svc := outbox.NewService(f.repo, nil)
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          data,
		})
	}))
	return orderID
}

func (f *relayFixture) rows(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f *relayFixture) deadLetters(t *testing.T) []models.OutboxDLQ {
	t.Helper()
	var rows []models.OutboxDLQ
	require.NoError(t, f.client.DB().Find(&rows).Error)
	return rows
}

func TestDrainPublishesWithOrderingKey(t *testing.T) {
	f := newRelayFixture(t, 3)
	orderID := f.emit(t, enums.EventOrderPlaced, payloads.OrderPlacedEvent{OrderCode: "ORD-AAAAAA"})

	n, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.sink.sent, 1)
	sent := f.sink.sent[0]
	assert.Equal(t, "orders-topic", sent.topic)
	assert.Equal(t, orderID.String(), sent.msg.OrderingKey)
	assert.Equal(t, "order_placed", sent.msg.Attributes["event_type"])

	var env outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(sent.msg.Data, &env))
	assert.Equal(t, env.EventID, sent.msg.Attributes["event_id"])

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].PublishedAt)

	n, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published rows are not claimed again")
}

func TestDrainRetriesTransientFailureThenDeadLetters(t *testing.T) {
	f := newRelayFixture(t, 2)
	f.emit(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{OrderCode: "ORD-BBBBBB"})
	f.sink.errs = []error{errors.New("deadline exceeded"), errors.New("deadline exceeded")}

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	rows := f.rows(t)
	assert.Equal(t, 1, rows[0].AttemptCount)
	assert.Nil(t, rows[0].PublishedAt)
	assert.Empty(t, f.deadLetters(t))

	_, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	rows = f.rows(t)
	assert.Equal(t, 2, rows[0].AttemptCount, "parked at the ceiling")

	graves := f.deadLetters(t)
	require.Len(t, graves, 1)
	assert.Equal(t, enums.OutboxDLQReasonRetriesExhausted, graves[0].ErrorReason)
	assert.Equal(t, rows[0].ID, graves[0].EventID)

	n, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainDeadLettersUnroutableAndPermanentFailures(t *testing.T) {
	f := newRelayFixture(t, 5)
	f.emit(t, enums.EventOrderPaid, nil)
	f.emit(t, enums.EventPaymentFailed, payloads.PaymentOutcomeEvent{OrderCode: "ORD-CCCCCC"})
	f.sink.errs = []error{fmt.Errorf("topic %q: %w", "orders-topic", pubsub.ErrUnknownTopic)}

	n, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.sink.sent)

	graves := f.deadLetters(t)
	require.Len(t, graves, 2)
	reasons := make([]enums.OutboxDLQReason, 0, len(graves))
	for _, g := range graves {
		reasons = append(reasons, g.ErrorReason)
		require.NotNil(t, g.ErrorMessage)
	}
	assert.ElementsMatch(t, []enums.OutboxDLQReason{enums.OutboxDLQReasonUnroutable, enums.OutboxDLQReasonRejected}, reasons)
	for _, row := range f.rows(t) {
		assert.Equal(t, 5, row.AttemptCount)
	}
}

func TestNewRelayReportsEveryMissingDependency(t *testing.T) {
	_, err := NewRelay(RelayParams{})
	require.Error(t, err)
	for _, want := range []string{"logger", "database", "outbox repository", "dead letter", "router", "sink"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newRelayFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := backoff{base: 100 * time.Millisecond, max: 350 * time.Millisecond}
	got := []time.Duration{b.next(), b.next(), b.next(), b.next()}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	assert.Equal(t, want, got)
	b.reset()
	assert.Equal(t, 100*time.Millisecond, b.next())

	for i := 0; i < 20; i++ {
		d := jitter(400 * time.Millisecond)
		assert.True(t, d >= 400*time.Millisecond && d <= 500*time.Millisecond, "jitter out of range: %s", d)
	}
}
