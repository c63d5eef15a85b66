package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params carries a page request. An empty Cursor starts at the newest row.
type Params struct {
	Limit  int
	Cursor string
}

// Size clamps the requested limit into [1, MaxLimit].
func (p Params) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// Fetch is Size plus one row, used to detect whether another page exists.
func (p Params) Fetch() int {
	return p.Size() + 1
}

// Cursor points at the last row of a page ordered by (created_at, id) descending.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

func Encode(c Cursor) string {
	c.CreatedAt = c.CreatedAt.UTC()
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode returns nil for an empty cursor.
func Decode(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Trim cuts a result fetched with Fetch() rows down to the page size and returns
// the cursor for the following page, or "" on the last page.
func Trim[T any](rows []T, p Params, key func(T) Cursor) ([]T, string) {
	size := p.Size()
	if len(rows) <= size {
		return rows, ""
	}
	rows = rows[:size]
	return rows, Encode(key(rows[size-1]))
}
