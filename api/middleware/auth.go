package middleware

import (
	"net/http"
	"strings"

	"github.com/musicx/musicx-backend/api/responses"
	pkgAuth "github.com/musicx/musicx-backend/pkg/auth"
	"github.com/musicx/musicx-backend/pkg/config"
	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
	"github.com/musicx/musicx-backend/pkg/logger"
)

// Auth requires an "Authorization: Bearer <jwt>" header and puts the caller's
// id and role on the request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				challenge(w, r, logg, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				challenge(w, r, logg, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			userID := claims.UserID.String()
			ctx := WithRole(WithUserID(r.Context(), userID), claims.Role)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"user_id": userID, "actor_role": string(claims.Role)})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func challenge(w http.ResponseWriter, r *http.Request, logg *logger.Logger, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="musicx"`)
	responses.WriteError(r.Context(), logg, w, err)
}

// bearerToken accepts the scheme in any case, as RFC 7235 requires.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
