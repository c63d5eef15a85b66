package payments

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/musicx/musicx-backend/api/middleware"
	"github.com/musicx/musicx-backend/api/responses"
	"github.com/musicx/musicx-backend/api/validators"
	ordercontrollers "github.com/musicx/musicx-backend/api/controllers/orders"
	internalorders "github.com/musicx/musicx-backend/internal/orders"
	internalpayments "github.com/musicx/musicx-backend/internal/payments"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
)

const maxNotifyBodyBytes = 64 << 10

// Service is the reconciliation surface the handlers need.
type Service interface {
	CreatePaymentLink(ctx context.Context, input internalorders.PlaceInput) (*internalpayments.LinkResult, error)
	HandleReturn(ctx context.Context, query url.Values) string
	HandleNotify(ctx context.Context, body []byte) (*internalpayments.NotifyAck, error)
}

type createLinkResponse struct {
	Order  internalorders.OrderDTO `json:"order"`
	PayURL string                  `json:"payUrl"`
}

// CreateLink places a gateway order and returns the payer URL.
func CreateLink(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req ordercontrollers.PlaceOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentLink(r.Context(), req.ToInput(userID, middleware.ActorFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, createLinkResponse{
			Order:  internalorders.NewOrderDTO(result.Order),
			PayURL: result.PayURL,
		})
	}
}

// Return always answers with a redirect to the storefront result page.
func Return(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		http.Redirect(w, r, svc.HandleReturn(r.Context(), r.URL.Query()), http.StatusFound)
	}
}

// Notify acknowledges gateway IPN deliveries in the gateway's own body shape.
func Notify(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotifyBodyBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read notification body"))
			return
		}

		ack, err := svc.HandleNotify(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteRaw(w, http.StatusOK, ack)
	}
}
