package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteRaw writes payload without the success envelope. Gateway callbacks
// expect their own body shape.
func WriteRaw(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// publicMessageCodes lists codes whose error message is safe to return as-is.
var publicMessageCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:              {},
	pkgerrors.CodeForbidden:               {},
	pkgerrors.CodeUnauthorized:            {},
	pkgerrors.CodeNotFound:                {},
	pkgerrors.CodeConflict:                {},
	pkgerrors.CodeIdempotency:             {},
	pkgerrors.CodeItemNotFound:            {},
	pkgerrors.CodeInsufficientStock:       {},
	pkgerrors.CodeOrderNotFound:           {},
	pkgerrors.CodeAlreadyCancelled:        {},
	pkgerrors.CodeInvalidStatusTransition: {},
	pkgerrors.CodeGatewayRejected:         {},
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if _, ok := publicMessageCodes[typed.Code()]; ok {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := ErrorEnvelope{
		Error: APIError{
			Code:    string(typed.Code()),
			Message: msg,
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		fields := pkgerrors.LogFields(err)
		fields["http_status"] = meta.HTTPStatus

		ctx = logg.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
