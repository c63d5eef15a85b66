package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
)

// ParseQueryInt reads an integer query parameter, returning def when it is
// absent. Values outside [lo, hi] are rejected rather than clamped.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
			WithDetails(map[string]any{"field": key, "min": lo, "max": hi})
	}
	return n, nil
}
