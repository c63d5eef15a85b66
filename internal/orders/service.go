package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/internal/inventory"
	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/outbox/payloads"
	"github.com/musicx/musicx-backend/pkg/pagination"
)

const orderCodeConstraint = "orders_order_code_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the only writer of orders. Stock moves through the inventory
// ledger it is built with.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (*models.Order, bool, error)
	ExpirePendingPayments(ctx context.Context, cutoff time.Time, limit int) (int, error)
	Get(ctx context.Context, ref string) (*models.Order, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
	Delete(ctx context.Context, ref string) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	ledger inventory.Store
	logg   *logger.Logger
	codes  CodeGenerator
	now    func() time.Time
}

// Option customizes the service.
type Option func(*service)

// WithCodeGenerator overrides order code generation.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *service) {
		if gen != nil {
			s.codes = gen
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, ledger inventory.Store, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		ledger: ledger,
		logg:   logg,
		codes:  NewOrderCode,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Place(ctx context.Context, input PlaceInput) (*models.Order, error) {
	if err := validatePlaceInput(input); err != nil {
		return nil, err
	}

	lines := make([]inventory.Line, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, inventory.Line{ItemID: item.ItemID, Quantity: item.Quantity})
	}

	albums, err := s.ledger.CheckAvailability(ctx, lines)
	if err != nil {
		return nil, err
	}

	reserved := make([]inventory.Line, 0, len(lines))
	for _, line := range lines {
		if _, err := s.ledger.Reserve(ctx, line.ItemID, line.Quantity); err != nil {
			// lost a race with a concurrent order after the pre-check
			s.compensate(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, line)
	}

	order := buildOrder(input, albums, s.now())
	if err := s.persist(ctx, order, input.Actor); err != nil {
		s.compensate(ctx, reserved)
		if pkgerrors.IsCode(err, pkgerrors.CodeStorageFailure) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "persist order")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"order_code": order.OrderCode,
		"status":     order.Status,
	})
	s.logg.Info(logCtx, "order placed")
	return order, nil
}

func (s *service) persist(ctx context.Context, order *models.Order, actor *outbox.ActorRef) error {
	for attempt := 1; attempt <= maxCodeGeneration; attempt++ {
		code, err := s.codes()
		if err != nil {
			return err
		}
		order.OrderCode = code

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderPlaced,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				Data:          placedEvent(order),
			})
		})
		if err == nil {
			return nil
		}
		if !isOrderCodeCollision(err) {
			return err
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_code", code), "order code collision, regenerating")
	}
	return pkgerrors.New(pkgerrors.CodeStorageFailure, "could not allocate a unique order code")
}

func isOrderCodeCollision(err error) bool {
	return db.IsUniqueViolation(err, orderCodeConstraint) || db.IsUniqueViolation(err, "orders.order_code")
}

// compensate returns reserved stock after a failed placement. Failures are
// logged and not retried.
func (s *service) compensate(ctx context.Context, reserved []inventory.Line) {
	if len(reserved) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var errs error
	for _, line := range reserved {
		if _, err := s.ledger.Release(ctx, line.ItemID, line.Quantity); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s x%d: %w", line.ItemID, line.Quantity, err))
		}
	}
	if errs != nil {
		s.logg.Error(ctx, "order placement compensation incomplete", errs)
	}
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.find(ctx, repo, input.Ref)
		if err != nil {
			return err
		}
		if input.OwnerID != uuid.Nil && order.UserID != input.OwnerID {
			return orderNotFound(input.Ref)
		}
		if err := s.cancelInTx(ctx, tx, repo, order, input.Reason, input.Actor); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, storageOr(err, "cancel order")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   result.ID.String(),
		"order_code": result.OrderCode,
		"reason":     input.Reason,
	})
	s.logg.Info(logCtx, "order cancelled and restocked")
	return result, nil
}

// cancelInTx claims the cancelled status first so that concurrent cancels
// cannot both restock, then releases every line.
func (s *service) cancelInTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, reason string, actor *outbox.ActorRef) error {
	from := order.Status
	if from == enums.OrderStatusCancelled {
		return alreadyCancelled(order)
	}
	if !CanTransition(from, enums.OrderStatusCancelled) {
		return invalidTransition(from, enums.OrderStatusCancelled)
	}

	now := s.now()
	ok, err := repo.TransitionStatus(ctx, order.ID, from, enums.OrderStatusCancelled, map[string]any{"cancelled_at": now})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "update order status")
	}
	if !ok {
		current, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "reload order")
		}
		if current.Status == enums.OrderStatusCancelled {
			return alreadyCancelled(current)
		}
		return invalidTransition(current.Status, enums.OrderStatusCancelled)
	}

	ledger := s.ledger.WithTx(tx)
	restocked := make([]payloads.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		if _, err := ledger.Release(ctx, item.ItemID, item.Quantity); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeItemNotFound) {
				s.logg.Warn(s.logg.WithField(ctx, "item_id", item.ItemID.String()), "album removed from catalog, skipping restock")
				continue
			}
			return err
		}
		restocked = append(restocked, orderLine(item))
	}

	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	if reason == "" {
		reason = "cancelled"
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.OrderCancelledEvent{
			OrderID:     order.ID,
			OrderCode:   order.OrderCode,
			From:        from,
			Reason:      reason,
			Restocked:   restocked,
			CancelledAt: now,
		},
	})
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	target, err := enums.ParseOrderStatus(strings.TrimSpace(input.Status))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": input.Status})
	}
	if target == enums.OrderStatusCancelled {
		return s.Cancel(ctx, CancelInput{Ref: input.Ref, Reason: "admin", Actor: input.Actor})
	}

	var result *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.find(ctx, repo, input.Ref)
		if err != nil {
			return err
		}
		result = order
		from := order.Status
		if from == target {
			return nil
		}
		if !CanTransition(from, target) {
			return invalidTransition(from, target)
		}

		now := s.now()
		updates := map[string]any{}
		switch target {
		case enums.OrderStatusPaid:
			updates["paid_at"] = now
			order.PaidAt = &now
		case enums.OrderStatusShipped:
			updates["shipped_at"] = now
			order.ShippedAt = &now
		case enums.OrderStatusDelivered:
			updates["delivered_at"] = now
			order.DeliveredAt = &now
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, from, target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidStatusTransition, "order status changed concurrently").
				WithDetails(map[string]any{"from": from, "to": target})
		}
		order.Status = target

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:   order.ID,
				OrderCode: order.OrderCode,
				From:      from,
				To:        target,
				ChangedAt: now,
			},
		})
	})
	if err != nil {
		return nil, storageOr(err, "update order status")
	}
	return result, nil
}

// ApplyPaymentOutcome records a gateway settlement result. Re-applying the
// outcome the order already carries is a no-op and reports applied=false.
func (s *service) ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (*models.Order, bool, error) {
	target := enums.OrderStatusFailed
	event := enums.EventPaymentFailed
	if outcome.Succeeded {
		target = enums.OrderStatusPaid
		event = enums.EventOrderPaid
	}

	var (
		result  *models.Order
		applied bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.find(ctx, repo, outcome.OrderRef)
		if err != nil {
			return err
		}
		result = order
		from := order.Status
		if from == target {
			return nil
		}
		if !CanTransition(from, target) {
			return invalidTransition(from, target)
		}

		now := s.now()
		updates := map[string]any{}
		if len(outcome.Raw) > 0 {
			updates["payment_result"] = []byte(outcome.Raw)
			order.PaymentResult = outcome.Raw
		}
		if outcome.Succeeded {
			updates["paid_at"] = now
			order.PaidAt = &now
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, from, target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "update order status")
		}
		if !ok {
			current, err := repo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "reload order")
			}
			result = current
			if current.Status == target {
				return nil
			}
			return invalidTransition(current.Status, target)
		}
		order.Status = target
		applied = true

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     event,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    now,
			Data: payloads.PaymentOutcomeEvent{
				OrderID:    order.ID,
				OrderCode:  order.OrderCode,
				Status:     target,
				ResultCode: outcome.ResultCode,
				TransID:    outcome.TransID,
				Amount:     outcome.Amount,
				OccurredAt: now,
			},
		})
	})
	if err != nil {
		return nil, false, storageOr(err, "apply payment outcome")
	}
	return result, applied, nil
}

// ExpirePendingPayments cancels, and so restocks, gateway orders that never
// settled before cutoff. Orders settled concurrently are skipped.
func (s *service) ExpirePendingPayments(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.FindPendingPaymentBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "find stale pending payments")
	}

	expired := 0
	var errs error
	for _, order := range stale {
		_, err := s.Cancel(ctx, CancelInput{Ref: order.ID.String(), Reason: "payment_timeout"})
		switch {
		case err == nil:
			expired++
		case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyCancelled), pkgerrors.IsCode(err, pkgerrors.CodeInvalidStatusTransition):
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", order.OrderCode, err))
		}
	}
	return expired, errs
}

func (s *service) Get(ctx context.Context, ref string) (*models.Order, error) {
	order, err := s.find(ctx, s.repo, ref)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status filter")
	}
	rows, next, err := s.repo.List(ctx, filters, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderDTO, 0, len(rows)), NextCursor: next}
	for i := range rows {
		list.Orders = append(list.Orders, NewOrderDTO(&rows[i]))
	}
	return list, nil
}

func (s *service) Delete(ctx context.Context, ref string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.find(ctx, repo, ref)
		if err != nil {
			return err
		}
		deleted, err := repo.Delete(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "delete order")
		}
		if !deleted {
			return orderNotFound(ref)
		}
		return nil
	})
	return storageOr(err, "delete order")
}

// find resolves ref as an order id or an ORD- code.
func (s *service) find(ctx context.Context, repo Repository, ref string) (*models.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, orderNotFound(ref)
	}
	var (
		order *models.Order
		err   error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		order, err = repo.FindByID(ctx, id)
	} else {
		order, err = repo.FindByCode(ctx, ref)
	}
	if err != nil {
		if db.IsNotFound(err) {
			return nil, orderNotFound(ref)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "load order")
	}
	return order, nil
}

func validatePlaceInput(input PlaceInput) error {
	var problems []string
	if input.UserID == uuid.Nil {
		problems = append(problems, "user_id is required")
	}
	if len(input.Items) == 0 {
		problems = append(problems, "items must not be empty")
	}
	for i, item := range input.Items {
		if item.ItemID == uuid.Nil {
			problems = append(problems, fmt.Sprintf("items[%d].item_id is required", i))
		}
		if item.Quantity < 1 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
		if item.PricePerUnit.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].price_per_unit must not be negative", i))
		}
	}
	for name, amount := range map[string]decimal.Decimal{
		"subtotal":       input.Subtotal,
		"shipping_price": input.ShippingPrice,
		"discount":       input.Discount,
		"total_amount":   input.TotalAmount,
	} {
		if amount.IsNegative() {
			problems = append(problems, name+" must not be negative")
		}
	}
	if !input.Currency.IsValid() {
		problems = append(problems, "currency is invalid")
	}
	if !input.ShippingMethod.IsValid() {
		problems = append(problems, "shipping_method is invalid")
	}
	if !input.PaymentMethod.IsValid() {
		problems = append(problems, "payment_method is invalid")
	}
	addr := input.ShippingAddress
	if strings.TrimSpace(addr.Recipient) == "" || strings.TrimSpace(addr.Street) == "" ||
		strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.Country) == "" {
		problems = append(problems, "shipping_address requires recipient, street, city and country")
	}
	if len(problems) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order request").WithDetails(problems)
	}
	return nil
}

func buildOrder(input PlaceInput, albums map[uuid.UUID]*models.Album, now time.Time) *models.Order {
	items := make([]models.OrderLineItem, 0, len(input.Items))
	for i, item := range input.Items {
		line := models.OrderLineItem{
			Position:     i + 1,
			ItemID:       item.ItemID,
			SKU:          strings.TrimSpace(item.SKU),
			Name:         strings.TrimSpace(item.Name),
			Quantity:     item.Quantity,
			PricePerUnit: item.PricePerUnit,
		}
		if album, ok := albums[item.ItemID]; ok {
			if line.Name == "" {
				line.Name = album.Title
			}
			if line.SKU == "" {
				line.SKU = album.SKU
			}
		}
		items = append(items, line)
	}
	return &models.Order{
		UserID:          input.UserID,
		OrderDate:       now,
		Items:           items,
		Subtotal:        input.Subtotal,
		ShippingPrice:   input.ShippingPrice,
		Discount:        input.Discount,
		TotalAmount:     input.TotalAmount,
		Currency:        input.Currency,
		ShippingAddress: input.ShippingAddress,
		ShippingMethod:  input.ShippingMethod,
		PaymentMethod:   input.PaymentMethod,
		Status:          InitialStatus(input.PaymentMethod),
	}
}

func placedEvent(order *models.Order) payloads.OrderPlacedEvent {
	lines := make([]payloads.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, orderLine(item))
	}
	return payloads.OrderPlacedEvent{
		OrderID:       order.ID,
		OrderCode:     order.OrderCode,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		Items:         lines,
		PlacedAt:      order.OrderDate,
	}
}

func orderLine(item models.OrderLineItem) payloads.OrderLine {
	return payloads.OrderLine{
		ItemID:       item.ItemID,
		SKU:          item.SKU,
		Quantity:     item.Quantity,
		PricePerUnit: item.PricePerUnit,
	}
}

func orderNotFound(ref string) error {
	return pkgerrors.New(pkgerrors.CodeOrderNotFound, fmt.Sprintf("order %q not found", ref))
}

func alreadyCancelled(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyCancelled, fmt.Sprintf("order %s is already cancelled", order.OrderCode))
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidStatusTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

// storageOr keeps typed errors and wraps anything else as a storage failure.
func storageOr(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, message)
}
