package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
)

type sampleLine struct {
	SKU      string          `json:"sku" validate:"required"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

type sampleBody struct {
	Lines  []sampleLine `json:"lines" validate:"required,min=1,dive"`
	Method string       `json:"method" validate:"oneof=standard express"`
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"lines":[{"sku":"LP-1","quantity":2,"price":"12.50"}],"method":"express"}`))
	var body sampleBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.Equal(t, "12.5", body.Lines[0].Price.String())
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"lines":[{"sku":"","quantity":0,"price":"-1"}],"method":"pigeon"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "is required", details["sku"])
	require.Equal(t, "must be greater than 0", details["quantity"])
	require.Equal(t, "must be 0 or more", details["price"])
	require.Contains(t, details["method"], "must be one of")
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"lines":[],"bogus":true}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest("GET", "/", nil)
	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, v)
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"lines":[{"sku":"A","quantity":1,"price":"1"}],"method":"standard"} {"again":1}`))
	var body sampleBody
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "Nguyễn", SanitizeString("  Nguyễn  ", 0))
	// "ễ" is three bytes; a cap inside it drops the whole rune
	require.Equal(t, "Nguy", SanitizeString("Nguyễn", 6))
	require.Equal(t, "Nguyễ", SanitizeString("Nguyễn", 7))
}
