package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/musicx/musicx-backend/api/middleware"
	"github.com/musicx/musicx-backend/api/responses"
	"github.com/musicx/musicx-backend/api/validators"
	internalorders "github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/enums"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/pagination"
)

// Place reserves stock and records a cash-on-delivery or card order.
func Place(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req PlaceOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.PaymentMethod == string(enums.PaymentMethodGateway) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "gateway payments start at /api/v1/payments/create-link"))
			return
		}

		order, err := svc.Place(r.Context(), req.ToInput(userID, middleware.ActorFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.NewOrderDTO(order))
	}
}

// Detail returns one order to its owner or to an admin. Other callers see 404.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		ref, err := orderRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !middleware.IsAdmin(r.Context()) {
			userID, _ := middleware.UserUUIDFromContext(r.Context())
			if order.UserID != userID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found"))
				return
			}
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order))
	}
}

// Cancel lets the owner cancel an order and restock its lines.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		ref, err := orderRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		reason := validators.SanitizeString(req.Reason, 255)
		if reason == "" {
			reason = "customer"
		}

		input := internalorders.CancelInput{
			Ref:    ref,
			Reason: reason,
			Actor:  middleware.ActorFromContext(r.Context()),
		}
		if !middleware.IsAdmin(r.Context()) {
			input.OwnerID = userID
		}

		order, err := svc.Cancel(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order))
	}
}

// ListForUser pages through one user's orders. Customers may only list their own.
func ListForUser(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		target, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "userId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		caller, _ := middleware.UserUUIDFromContext(r.Context())
		if caller != target && !middleware.IsAdmin(r.Context()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot list another user's orders"))
			return
		}

		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := listFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.UserID = &target

		list, err := svc.List(r.Context(), filters, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func orderRef(r *http.Request) (string, error) {
	ref := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if ref == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return ref, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

func listFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return filters, nil
	}
	status, err := enums.ParseOrderStatus(raw)
	if err != nil {
		return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
	}
	filters.Status = &status
	return filters, nil
}
