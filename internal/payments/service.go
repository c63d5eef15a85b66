package payments

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/metrics"
)

const (
	channelReturn = "return"
	channelNotify = "notify"

	returnStatusSuccess = "success"
	returnStatusFailed  = "failed"
	returnStatusPending = "pending"
)

type linkCreator interface {
	CreatePaymentLink(ctx context.Context, orderCode string, total decimal.Decimal) (*LinkResponse, error)
}

type orderSettler interface {
	Place(ctx context.Context, input orders.PlaceInput) (*models.Order, error)
	ApplyPaymentOutcome(ctx context.Context, outcome orders.PaymentOutcome) (*models.Order, bool, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type deadLetterStore interface {
	Insert(ctx context.Context, entry *models.PaymentNotifyDLQ) error
	ListReplayable(ctx context.Context, maxAttempts, limit int) ([]models.PaymentNotifyDLQ, error)
	MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error, exhausted bool) error
}

// ServiceParams groups the collaborators of the payment service.
type ServiceParams struct {
	Orders           orderSettler
	Gateway          linkCreator
	Signer           *Signer
	Guard            deliveryGuard
	DeadLetters      deadLetterStore
	Metrics          *metrics.PaymentMetrics
	Logger           *logger.Logger
	FrontendURL      string
	RequireSignature bool
	ReplayMaxAttempt int
}

// Service reconciles orders with the payment gateway.
type Service struct {
	orders      orderSettler
	gateway     linkCreator
	signer      *Signer
	guard       deliveryGuard
	dlq         deadLetterStore
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	frontendURL string
	requireSig  bool
	maxAttempts int
	now         func() time.Time
}

// NotifyAck is the body returned to the gateway on notify.
type NotifyAck struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// LinkResult is returned to the buyer after a payment link is created.
type LinkResult struct {
	Order  *models.Order
	PayURL string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Signer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signer required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notify guard required")
	}
	if params.DeadLetters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store required")
	}
	if _, err := url.Parse(params.FrontendURL); err != nil || params.FrontendURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "frontend return url required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	maxAttempts := params.ReplayMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		orders:      params.Orders,
		gateway:     params.Gateway,
		signer:      params.Signer,
		guard:       params.Guard,
		dlq:         params.DeadLetters,
		metrics:     params.Metrics,
		logg:        logg,
		frontendURL: params.FrontendURL,
		requireSig:  params.RequireSignature,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreatePaymentLink places a gateway order and requests a payer URL for it.
// When the gateway call fails the order stays pending_payment with its stock
// reserved; the payment-timeout sweep restocks it.
func (s *Service) CreatePaymentLink(ctx context.Context, input orders.PlaceInput) (*LinkResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	input.PaymentMethod = enums.PaymentMethodGateway
	order, err := s.orders.Place(ctx, input)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "order_code": order.OrderCode})
	link, err := s.gateway.CreatePaymentLink(ctx, order.OrderCode, order.TotalAmount)
	if err != nil {
		s.logg.Error(ctx, "payment link creation failed, order left pending_payment", err)
		return nil, err
	}
	s.logg.Info(ctx, "payment link created")
	return &LinkResult{Order: order, PayURL: link.PayURL}, nil
}

// HandleReturn turns the browser return into a frontend redirect URL. The order
// is only touched when the query carries a valid gateway signature.
func (s *Service) HandleReturn(ctx context.Context, query url.Values) string {
	cb, err := CallbackFromQuery(query)
	if err != nil {
		s.metrics.IncCallback(channelReturn, "malformed")
		s.logg.Warn(ctx, "payment return rejected: "+err.Error())
		return s.redirect(returnStatusFailed, cb.OrderID)
	}
	ctx = s.logg.WithField(ctx, "order_code", cb.OrderID)

	if !s.signer.Verify(cb) {
		s.metrics.IncCallback(channelReturn, "bad_signature")
		s.logg.Warn(ctx, "payment return signature mismatch, order untouched")
		return s.redirect(returnStatusFailed, cb.OrderID)
	}
	if cb.ResultCode == resultCodeAwaitingUser {
		s.metrics.IncCallback(channelReturn, "pending")
		return s.redirect(returnStatusPending, cb.OrderID)
	}

	order, _, err := s.orders.ApplyPaymentOutcome(ctx, outcomeFrom(cb, queryPayload(query)))
	if err != nil {
		s.metrics.IncCallback(channelReturn, "error")
		s.logg.Error(ctx, "payment return could not be applied", err)
		return s.redirect(returnStatusFailed, cb.OrderID)
	}
	s.metrics.IncCallback(channelReturn, string(order.Status))
	if order.Status == enums.OrderStatusPaid {
		return s.redirect(returnStatusSuccess, cb.OrderID)
	}
	return s.redirect(returnStatusFailed, cb.OrderID)
}

// HandleNotify applies a server-to-server notification. Only an unknown order,
// a malformed body or a bad signature produce an error; anything else that
// fails is dead-lettered and acknowledged.
func (s *Service) HandleNotify(ctx context.Context, body []byte) (*NotifyAck, error) {
	var (
		cb       Callback
		presence struct {
			ResultCode *int `json:"resultCode"`
		}
	)
	if err := json.Unmarshal(body, &cb); err != nil {
		s.metrics.IncCallback(channelNotify, "malformed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification body")
	}
	cb.OrderID = strings.TrimSpace(cb.OrderID)
	if cb.OrderID == "" {
		s.metrics.IncCallback(channelNotify, "malformed")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId is required")
	}
	// a zero resultCode means success, so an absent one must not default to it
	if err := json.Unmarshal(body, &presence); err != nil || presence.ResultCode == nil {
		s.metrics.IncCallback(channelNotify, "malformed")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resultCode is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_code":  cb.OrderID,
		"request_id":  cb.RequestID,
		"result_code": cb.ResultCode,
	})

	if s.requireSig && !s.signer.Verify(cb) {
		s.metrics.IncCallback(channelNotify, "bad_signature")
		s.logg.Warn(ctx, "payment notify signature mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid notification signature")
	}

	key := DeliveryKey(cb)
	duplicate, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		// without the guard the outcome path is still idempotent
		s.logg.Error(ctx, "notify idempotency guard unavailable", err)
	}
	if duplicate {
		s.metrics.IncCallback(channelNotify, "duplicate")
		return &NotifyAck{ResultCode: 0, Message: "duplicate notification ignored"}, nil
	}

	order, applied, err := s.orders.ApplyPaymentOutcome(ctx, outcomeFrom(cb, json.RawMessage(body)))
	if err == nil {
		outcome := "noop"
		if applied {
			outcome = string(order.Status)
		}
		s.metrics.IncCallback(channelNotify, outcome)
		s.logg.Info(ctx, "payment notification applied")
		return &NotifyAck{ResultCode: 0, Message: "notification processed"}, nil
	}

	if pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound) {
		s.releaseGuard(ctx, key)
		s.metrics.IncCallback(channelNotify, "unknown_order")
		return nil, err
	}

	s.logg.Error(ctx, "payment notification failed, dead-lettering", err)
	if dlqErr := s.deadLetter(ctx, cb, body, err); dlqErr != nil {
		// still acknowledged so the gateway does not retry indefinitely
		s.releaseGuard(ctx, key)
		s.metrics.IncCallback(channelNotify, "dead_letter_failed")
		s.logg.Error(ctx, "payment notification lost", multierr.Append(err, dlqErr))
		return &NotifyAck{ResultCode: 0, Message: "notification received"}, nil
	}
	s.metrics.IncCallback(channelNotify, "dead_lettered")
	return &NotifyAck{ResultCode: 0, Message: "notification accepted for replay"}, nil
}

// ReplayDeadLetters retries pending replayable notifications. It returns how
// many were resolved.
func (s *Service) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	entries, err := s.dlq.ListReplayable(ctx, s.maxAttempts, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "list notify dead letters")
	}

	resolved := 0
	var errs error
	for i := range entries {
		entry := entries[i]
		entryCtx := s.logg.WithFields(ctx, map[string]any{"dlq_id": entry.ID.String(), "order_code": entry.OrderCode})

		var cb Callback
		applyErr := json.Unmarshal(entry.Payload, &cb)
		if applyErr == nil {
			_, _, applyErr = s.orders.ApplyPaymentOutcome(entryCtx, outcomeFrom(cb, entry.Payload))
		}
		if applyErr == nil {
			if err := s.dlq.MarkResolved(entryCtx, entry.ID, s.now()); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			resolved++
			s.logg.Info(entryCtx, "dead-lettered notification replayed")
			continue
		}

		exhausted := entry.AttemptCount+1 >= s.maxAttempts ||
			pkgerrors.IsCode(applyErr, pkgerrors.CodeOrderNotFound) ||
			pkgerrors.IsCode(applyErr, pkgerrors.CodeInvalidStatusTransition)
		if err := s.dlq.RecordFailure(entryCtx, entry.ID, applyErr, exhausted); err != nil {
			errs = multierr.Append(errs, err)
		}
		if exhausted {
			s.logg.Warn(entryCtx, "dead-lettered notification exhausted: "+applyErr.Error())
		}
	}
	return resolved, errs
}

func (s *Service) deadLetter(ctx context.Context, cb Callback, body []byte, cause error) error {
	reason := enums.NotifyDLQReasonUnknown
	switch pkgerrors.CodeOf(cause) {
	case pkgerrors.CodeInvalidStatusTransition:
		reason = enums.NotifyDLQReasonStateConflict
	case pkgerrors.CodeStorageFailure:
		reason = enums.NotifyDLQReasonStorage
	}
	s.metrics.IncDeadLettered(string(reason))
	return s.dlq.Insert(ctx, &models.PaymentNotifyDLQ{
		OrderCode:    cb.OrderID,
		RequestID:    cb.RequestID,
		ResultCode:   cb.ResultCode,
		Payload:      json.RawMessage(body),
		Reason:       reason,
		ErrorMessage: cause.Error(),
	})
}

func (s *Service) releaseGuard(ctx context.Context, key string) {
	if err := s.guard.Release(ctx, key); err != nil {
		s.logg.Error(ctx, "release notify idempotency key", err)
	}
}

func (s *Service) redirect(status, orderCode string) string {
	target, err := url.Parse(s.frontendURL)
	if err != nil {
		return s.frontendURL
	}
	q := target.Query()
	q.Set("status", status)
	if orderCode != "" {
		q.Set("orderId", orderCode)
	}
	target.RawQuery = q.Encode()
	return target.String()
}

func outcomeFrom(cb Callback, payload json.RawMessage) orders.PaymentOutcome {
	transID := ""
	if cb.TransID != 0 {
		transID = strconv.FormatInt(cb.TransID, 10)
	}
	return orders.PaymentOutcome{
		OrderRef:   cb.OrderID,
		Succeeded:  cb.ResultCode == resultCodeSuccess,
		ResultCode: cb.ResultCode,
		TransID:    transID,
		Amount:     decimal.NewFromInt(cb.Amount),
		Raw:        payload,
	}
}

// queryPayload flattens return query parameters for storage as payment_result.
func queryPayload(q url.Values) json.RawMessage {
	flat := make(map[string]string, len(q))
	for k := range q {
		flat[k] = q.Get(k)
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return payload
}
