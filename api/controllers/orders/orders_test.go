package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musicx/musicx-backend/api/middleware"
	internalorders "github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/pagination"
)

type stubOrdersService struct {
	place        func(ctx context.Context, input internalorders.PlaceInput) (*models.Order, error)
	cancel       func(ctx context.Context, input internalorders.CancelInput) (*models.Order, error)
	updateStatus func(ctx context.Context, input internalorders.UpdateStatusInput) (*models.Order, error)
	get          func(ctx context.Context, ref string) (*models.Order, error)
	list         func(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error)
	del          func(ctx context.Context, ref string) error
}

func (s *stubOrdersService) Place(ctx context.Context, input internalorders.PlaceInput) (*models.Order, error) {
	return s.place(ctx, input)
}

func (s *stubOrdersService) Cancel(ctx context.Context, input internalorders.CancelInput) (*models.Order, error) {
	return s.cancel(ctx, input)
}

func (s *stubOrdersService) UpdateStatus(ctx context.Context, input internalorders.UpdateStatusInput) (*models.Order, error) {
	return s.updateStatus(ctx, input)
}

func (s *stubOrdersService) ApplyPaymentOutcome(context.Context, internalorders.PaymentOutcome) (*models.Order, bool, error) {
	panic("not implemented")
}

func (s *stubOrdersService) ExpirePendingPayments(context.Context, time.Time, int) (int, error) {
	panic("not implemented")
}

func (s *stubOrdersService) Get(ctx context.Context, ref string) (*models.Order, error) {
	return s.get(ctx, ref)
}

func (s *stubOrdersService) List(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error) {
	return s.list(ctx, filters, params)
}

func (s *stubOrdersService) Delete(ctx context.Context, ref string) error {
	return s.del(ctx, ref)
}

const placeBody = `{
	"items":[{"item_id":"%s","sku":"LP-001","name":"Blue Train","quantity":2,"price_per_unit":"25.00"}],
	"subtotal":"50.00","shipping_price":"5.00","discount":"0","total_amount":"55.00",
	"shipping_address":{"recipient":"Ana","street":"1 Main St","city":"Hanoi","country":"VN"},
	"shipping_method":"standard","payment_method":"cod"
}`

func sampleOrder(userID uuid.UUID, status enums.OrderStatus) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		OrderCode:   "ORD-ABC123",
		UserID:      userID,
		Status:      status,
		TotalAmount: decimal.RequireFromString("55.00"),
		Items: []models.OrderLineItem{{
			ItemID:   uuid.New(),
			Quantity: 2,
		}},
	}
}

func authed(req *http.Request, userID uuid.UUID, role enums.UserRole) *http.Request {
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestPlaceCreatesOrderForCaller(t *testing.T) {
	userID := uuid.New()
	itemID := uuid.New()
	var captured internalorders.PlaceInput
	svc := &stubOrdersService{
		place: func(ctx context.Context, input internalorders.PlaceInput) (*models.Order, error) {
			captured = input
			return sampleOrder(input.UserID, enums.OrderStatusPending), nil
		},
	}

	body := strings.Replace(placeBody, "%s", itemID.String(), 1)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), userID, enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != userID {
		t.Fatalf("expected caller as order owner, got %s", captured.UserID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ItemID != itemID || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.PaymentMethod != enums.PaymentMethodCOD || captured.Currency != enums.CurrencyVND {
		t.Fatalf("unexpected defaults %s %s", captured.PaymentMethod, captured.Currency)
	}
	if captured.Actor == nil || captured.Actor.UserID != userID {
		t.Fatalf("expected actor to be the caller")
	}

	var resp struct {
		Data internalorders.OrderDTO `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.OrderCode != "ORD-ABC123" || resp.Data.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected order %+v", resp.Data)
	}
}

func TestPlaceRejectsMissingItems(t *testing.T) {
	svc := &stubOrdersService{
		place: func(context.Context, internalorders.PlaceInput) (*models.Order, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	body := `{"items":[],"subtotal":"0","total_amount":"0","shipping_address":{"recipient":"a","street":"b","city":"c","country":"d"},"shipping_method":"standard"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestPlaceRejectsGatewayMethod(t *testing.T) {
	svc := &stubOrdersService{}
	body := strings.Replace(strings.Replace(placeBody, "%s", uuid.NewString(), 1), `"cod"`, `"gateway"`, 1)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestPlaceSurfacesInsufficientStock(t *testing.T) {
	svc := &stubOrdersService{
		place: func(context.Context, internalorders.PlaceInput) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for Blue Train").
				WithDetails(map[string]any{"available": 1, "requested": 2})
		},
	}
	body := strings.Replace(placeBody, "%s", uuid.NewString(), 1)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeInsufficientStock) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestDetailHidesOtherUsersOrders(t *testing.T) {
	owner := uuid.New()
	svc := &stubOrdersService{
		get: func(context.Context, string) (*models.Order, error) {
			return sampleOrder(owner, enums.OrderStatusPaid), nil
		},
	}

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABC123", nil), map[string]string{"orderId": "ORD-ABC123"})
	req = authed(req, uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stranger got %d", rec.Code)
	}

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABC123", nil), map[string]string{"orderId": "ORD-ABC123"})
	req = authed(req, owner, enums.UserRoleCustomer)
	rec = httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner got %d", rec.Code)
	}

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABC123", nil), map[string]string{"orderId": "ORD-ABC123"})
	req = authed(req, uuid.New(), enums.UserRoleAdmin)
	rec = httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", rec.Code)
	}
}

func TestCancelScopesToOwner(t *testing.T) {
	userID := uuid.New()
	var captured internalorders.CancelInput
	svc := &stubOrdersService{
		cancel: func(ctx context.Context, input internalorders.CancelInput) (*models.Order, error) {
			captured = input
			return sampleOrder(userID, enums.OrderStatusCancelled), nil
		},
	}

	req := withURLParams(httptest.NewRequest(http.MethodPut, "/api/v1/orders/ORD-ABC123/cancel", nil), map[string]string{"orderId": "ORD-ABC123"})
	req = authed(req, userID, enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Ref != "ORD-ABC123" || captured.OwnerID != userID || captured.Reason != "customer" {
		t.Fatalf("unexpected cancel input %+v", captured)
	}
}

func TestCancelAlreadyCancelled(t *testing.T) {
	svc := &stubOrdersService{
		cancel: func(context.Context, internalorders.CancelInput) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyCancelled, "order ORD-ABC123 is already cancelled")
		},
	}

	req := withURLParams(httptest.NewRequest(http.MethodPut, "/api/v1/orders/ORD-ABC123/cancel", strings.NewReader(`{"reason":"changed my mind"}`)), map[string]string{"orderId": "ORD-ABC123"})
	req = authed(req, uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeAlreadyCancelled) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestListForUserRequiresSelfOrAdmin(t *testing.T) {
	target := uuid.New()
	var captured internalorders.ListFilters
	svc := &stubOrdersService{
		list: func(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error) {
			captured = filters
			return &internalorders.OrderList{Orders: []internalorders.OrderDTO{}}, nil
		},
	}

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/users/x/orders", nil), map[string]string{"userId": target.String()})
	req = authed(req, uuid.New(), enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	ListForUser(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/users/x/orders?status=paid&limit=10", nil), map[string]string{"userId": target.String()})
	req = authed(req, target, enums.UserRoleCustomer)
	rec = httptest.NewRecorder()
	ListForUser(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if captured.UserID == nil || *captured.UserID != target {
		t.Fatalf("expected user filter %s", target)
	}
	if captured.Status == nil || *captured.Status != enums.OrderStatusPaid {
		t.Fatalf("expected status filter paid")
	}
}

func TestListForUserRejectsBadStatus(t *testing.T) {
	target := uuid.New()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/users/x/orders?status=lost", nil), map[string]string{"userId": target.String()})
	req = authed(req, target, enums.UserRoleCustomer)
	rec := httptest.NewRecorder()
	ListForUser(&stubOrdersService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
