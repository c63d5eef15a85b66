package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicx/musicx-backend/internal/inventory"
	"github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/db/dbtest"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/pagination"
)

const frontendURL = "https://shop.example.com/payment-result"

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "mx:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type stubGateway struct {
	calls int
	err   error
}

func (g *stubGateway) CreatePaymentLink(_ context.Context, orderCode string, total decimal.Decimal) (*LinkResponse, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &LinkResponse{OrderID: orderCode, Amount: Amount(total), PayURL: "https://pay.example.com/" + orderCode}, nil
}

type paymentFixture struct {
	client  *db.Client
	orders  orders.Service
	svc     *Service
	signer  *Signer
	gateway *stubGateway
	dlq     *DLQRepository
}

func newPaymentFixture(t *testing.T) paymentFixture {
	t.Helper()
	client := dbtest.Open(t)
	pub := outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop())
	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, pub, inventory.NewLedger(client.DB()), logger.Nop())
	require.NoError(t, err)

	guard, err := NewNotifyGuard(newMemoryStore(), time.Hour, "payments.notify")
	require.NoError(t, err)
	signer := NewSigner("ak", "sk")
	gateway := &stubGateway{}
	dlq := NewDLQRepository(client.DB())
	svc, err := NewService(ServiceParams{
		Orders:           orderSvc,
		Gateway:          gateway,
		Signer:           signer,
		Guard:            guard,
		DeadLetters:      dlq,
		FrontendURL:      frontendURL,
		RequireSignature: true,
		ReplayMaxAttempt: 3,
	})
	require.NoError(t, err)
	return paymentFixture{client: client, orders: orderSvc, svc: svc, signer: signer, gateway: gateway, dlq: dlq}
}

func (f paymentFixture) seedAlbum(t *testing.T, stock int) models.Album {
	t.Helper()
	album := models.Album{Title: "Vespertine", SKU: "BJK-01", Price: decimal.NewFromInt(115000), Stock: stock}
	require.NoError(t, f.client.DB().Create(&album).Error)
	return album
}

func (f paymentFixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var album models.Album
	require.NoError(t, f.client.DB().First(&album, "id = ?", id).Error)
	return album.Stock
}

func (f paymentFixture) placeGatewayOrder(t *testing.T, album models.Album, qty int) *models.Order {
	t.Helper()
	result, err := f.svc.CreatePaymentLink(context.Background(), linkInput(album, qty))
	require.NoError(t, err)
	return result.Order
}

func linkInput(album models.Album, qty int) orders.PlaceInput {
	total := album.Price.Mul(decimal.NewFromInt(int64(qty)))
	return orders.PlaceInput{
		UserID:          uuid.New(),
		Items:           []orders.LineItemInput{{ItemID: album.ID, Quantity: qty, PricePerUnit: album.Price}},
		Subtotal:        total,
		TotalAmount:     total,
		Currency:        enums.CurrencyVND,
		ShippingAddress: models.ShippingAddress{Recipient: "Minh", Street: "1 Le Loi", City: "Da Nang", Country: "VN"},
		ShippingMethod:  enums.ShippingMethodExpress,
		PaymentMethod:   enums.PaymentMethodCOD,
	}
}

func (f paymentFixture) notifyBody(t *testing.T, orderCode string, resultCode int) []byte {
	t.Helper()
	body, err := json.Marshal(signedCallback(f.signer, orderCode, resultCode))
	require.NoError(t, err)
	return body
}

func returnQuery(cb Callback) url.Values {
	q := url.Values{}
	q.Set("partnerCode", cb.PartnerCode)
	q.Set("orderId", cb.OrderID)
	q.Set("requestId", cb.RequestID)
	q.Set("amount", strconv.FormatInt(cb.Amount, 10))
	q.Set("orderInfo", cb.OrderInfo)
	q.Set("orderType", cb.OrderType)
	q.Set("transId", strconv.FormatInt(cb.TransID, 10))
	q.Set("resultCode", strconv.Itoa(cb.ResultCode))
	q.Set("message", cb.Message)
	q.Set("payType", cb.PayType)
	q.Set("responseTime", strconv.FormatInt(cb.ResponseTime, 10))
	q.Set("extraData", cb.ExtraData)
	q.Set("signature", cb.Signature)
	return q
}

func TestCreatePaymentLinkPlacesPendingPaymentOrder(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)

	result, err := f.svc.CreatePaymentLink(context.Background(), linkInput(album, 2))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, result.Order.Status)
	assert.Equal(t, enums.PaymentMethodGateway, result.Order.PaymentMethod)
	assert.Equal(t, "https://pay.example.com/"+result.Order.OrderCode, result.PayURL)
	assert.Equal(t, 3, f.stock(t, album.ID))
}

func TestCreatePaymentLinkGatewayFailureKeepsReservation(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayUnreachable, "timeout")
	album := f.seedAlbum(t, 5)

	_, err := f.svc.CreatePaymentLink(context.Background(), linkInput(album, 2))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnreachable))
	assert.Equal(t, 3, f.stock(t, album.ID))

	list, err := f.orders.List(context.Background(), orders.ListFilters{}, paginationAll())
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, enums.OrderStatusPendingPayment, list.Orders[0].Status)
}

func TestCreatePaymentLinkStockFailureSkipsGateway(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 1)

	_, err := f.svc.CreatePaymentLink(context.Background(), linkInput(album, 2))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.Zero(t, f.gateway.calls)
}

func TestHandleNotifyDuplicateIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 2)
	body := f.notifyBody(t, order.OrderCode, 0)

	ack, err := f.svc.HandleNotify(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	ack, err = f.svc.HandleNotify(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, "duplicate notification ignored", ack.Message)

	stored, err := f.orders.Get(context.Background(), order.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
	assert.NotEmpty(t, stored.PaymentResult)
	assert.Equal(t, 3, f.stock(t, album.ID))

	var paidEvents int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPaid).Count(&paidEvents).Error)
	assert.EqualValues(t, 1, paidEvents)
}

func TestHandleNotifyFailureKeepsStockReserved(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 3)

	ack, err := f.svc.HandleNotify(context.Background(), f.notifyBody(t, order.OrderCode, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	stored, err := f.orders.Get(context.Background(), order.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, stored.Status)
	assert.Equal(t, 2, f.stock(t, album.ID))
}

func TestHandleNotifyRejectsBadInput(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 1)

	_, err := f.svc.HandleNotify(context.Background(), []byte(`{not json`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.HandleNotify(context.Background(), []byte(`{"resultCode":0}`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	// an absent resultCode must not read as success
	_, err = f.svc.HandleNotify(context.Background(), []byte(`{"orderId":"`+order.OrderCode+`"}`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	forged := signedCallback(f.signer, order.OrderCode, 0)
	forged.Signature = NewSigner("ak", "guess").Sign(f.signer.CallbackRaw(forged))
	body, err := json.Marshal(forged)
	require.NoError(t, err)
	_, err = f.svc.HandleNotify(context.Background(), body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	stored, err := f.orders.Get(context.Background(), order.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
}

func TestHandleNotifyUnknownOrderIsReported(t *testing.T) {
	f := newPaymentFixture(t)

	body := f.notifyBody(t, "ORD-ABCDEF", 0)
	_, err := f.svc.HandleNotify(context.Background(), body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound))

	// the delivery key is released so a retry is evaluated again
	_, err = f.svc.HandleNotify(context.Background(), body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound))
}

func TestHandleNotifyConflictIsDeadLetteredAndAcked(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 2)
	_, err := f.orders.Cancel(context.Background(), orders.CancelInput{Ref: order.OrderCode})
	require.NoError(t, err)

	ack, err := f.svc.HandleNotify(context.Background(), f.notifyBody(t, order.OrderCode, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, "notification accepted for replay", ack.Message)

	pending, err := f.dlq.ListByStatus(context.Background(), enums.NotifyDLQStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.OrderCode, pending[0].OrderCode)
	assert.Equal(t, enums.NotifyDLQReasonStateConflict, pending[0].Reason)
	assert.Equal(t, 5, f.stock(t, album.ID))

	// conflicts need an operator; the replay job leaves them alone
	resolved, err := f.svc.ReplayDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

type brokenDLQ struct {
	*DLQRepository
}

func (brokenDLQ) Insert(context.Context, *models.PaymentNotifyDLQ) error {
	return errors.New("dlq down")
}

func TestHandleNotifyAcksWhenDeadLetterWriteFails(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 2)
	_, err := f.orders.Cancel(context.Background(), orders.CancelInput{Ref: order.OrderCode})
	require.NoError(t, err)

	guard, err := NewNotifyGuard(newMemoryStore(), time.Hour, "payments.notify")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Orders:           f.orders,
		Gateway:          f.gateway,
		Signer:           f.signer,
		Guard:            guard,
		DeadLetters:      brokenDLQ{f.dlq},
		FrontendURL:      frontendURL,
		RequireSignature: true,
	})
	require.NoError(t, err)

	ack, err := svc.HandleNotify(context.Background(), f.notifyBody(t, order.OrderCode, 0))
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, 0, ack.ResultCode)

	stored, err := f.orders.Get(context.Background(), order.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
}

func TestReplayDeadLettersResolvesStorageFailures(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)
	order := f.placeGatewayOrder(t, album, 1)

	require.NoError(t, f.dlq.Insert(context.Background(), &models.PaymentNotifyDLQ{
		OrderCode:    order.OrderCode,
		RequestID:    order.OrderCode,
		ResultCode:   0,
		Payload:      f.notifyBody(t, order.OrderCode, 0),
		Reason:       enums.NotifyDLQReasonStorage,
		ErrorMessage: "connection reset",
	}))
	require.NoError(t, f.dlq.Insert(context.Background(), &models.PaymentNotifyDLQ{
		OrderCode: "ORD-999999",
		Payload:   f.notifyBody(t, "ORD-999999", 0),
		Reason:    enums.NotifyDLQReasonUnknown,
	}))

	resolved, err := f.svc.ReplayDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	stored, err := f.orders.Get(context.Background(), order.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)

	done, err := f.dlq.ListByStatus(context.Background(), enums.NotifyDLQStatusResolved, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.NotNil(t, done[0].ResolvedAt)

	exhausted, err := f.dlq.ListByStatus(context.Background(), enums.NotifyDLQStatusExhausted, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "ORD-999999", exhausted[0].OrderCode)
	assert.Equal(t, 1, exhausted[0].AttemptCount)
}

func TestHandleReturnRedirects(t *testing.T) {
	f := newPaymentFixture(t)
	album := f.seedAlbum(t, 5)

	paid := f.placeGatewayOrder(t, album, 1)
	target := f.svc.HandleReturn(context.Background(), returnQuery(signedCallback(f.signer, paid.OrderCode, 0)))
	assert.Equal(t, frontendURL+"?orderId="+paid.OrderCode+"&status=success", target)
	stored, err := f.orders.Get(context.Background(), paid.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)

	// notify arriving after the return is a no-op
	_, err = f.svc.HandleNotify(context.Background(), f.notifyBody(t, paid.OrderCode, 0))
	require.NoError(t, err)

	waiting := f.placeGatewayOrder(t, album, 1)
	target = f.svc.HandleReturn(context.Background(), returnQuery(signedCallback(f.signer, waiting.OrderCode, 1000)))
	assert.Equal(t, frontendURL+"?orderId="+waiting.OrderCode+"&status=pending", target)

	forged := signedCallback(f.signer, waiting.OrderCode, 0)
	forged.Signature = "deadbeef"
	target = f.svc.HandleReturn(context.Background(), returnQuery(forged))
	assert.Equal(t, frontendURL+"?orderId="+waiting.OrderCode+"&status=failed", target)
	stored, err = f.orders.Get(context.Background(), waiting.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)

	declined := f.placeGatewayOrder(t, album, 1)
	target = f.svc.HandleReturn(context.Background(), returnQuery(signedCallback(f.signer, declined.OrderCode, 1006)))
	assert.Equal(t, frontendURL+"?orderId="+declined.OrderCode+"&status=failed", target)

	target = f.svc.HandleReturn(context.Background(), url.Values{})
	assert.Equal(t, frontendURL+"?status=failed", target)
}

func paginationAll() pagination.Params {
	return pagination.Params{Limit: pagination.MaxLimit}
}
