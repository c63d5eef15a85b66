package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/musicx/musicx-backend/api/responses"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
	pkgredis "github.com/musicx/musicx-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	// OrderKeyTTL covers customer writes that move money or stock.
	OrderKeyTTL = 7 * 24 * time.Hour
	// AdminKeyTTL covers back-office status changes.
	AdminKeyTTL = 24 * time.Hour

	maxIdempotencyKeyLen = 128
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL          = 2 * time.Minute
)

// storedResponse is the value kept under an idempotency key. A pending entry
// belongs to a request that is still running.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent makes a route safe to retry with an Idempotency-Key header. The
// key is claimed before the handler runs, so a concurrent duplicate gets 409
// instead of placing a second order. Finished responses below 500 are kept for
// ttl and replayed byte for byte; 5xx responses and panics release the key.
// Requests without the header are not tracked. A nil store disables the check.
func Idempotent(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long").
					WithDetails(map[string]any{"max_length": maxIdempotencyKeyLen}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fp := fingerprint(r, body)
			storeKey := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, key)

			claim, _ := json.Marshal(storedResponse{Pending: true, Fingerprint: fp})
			won, err := store.SetNX(ctx, storeKey, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !won {
				replayStored(ctx, store, storeKey, fp, w, logg)
				return
			}

			kept := false
			defer func() {
				if kept {
					return
				}
				if err := store.Del(context.WithoutCancel(ctx), storeKey); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			if capture.code() >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(storedResponse{
				Fingerprint: fp,
				Status:      capture.code(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(context.WithoutCancel(ctx), storeKey, string(payload), ttl)
			}
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "save idempotent response", err)
				}
				return
			}
			kept = true
		})
	}
}

func replayStored(ctx context.Context, store pkgredis.IdempotencyStore, key, fp string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the first request released its claim between our SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotent response"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotent response"))
		return
	}
	if stored.Fingerprint != fp {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key was already used with a different request"))
		return
	}
	if stored.Pending {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) code() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
