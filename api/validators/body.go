// Package validators decodes and checks request input, turning every problem
// into a VALIDATION_ERROR with per-field details.
package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/musicx/musicx-backend/pkg/errors"
)

// maxBodyBytes caps JSON bodies; the largest legitimate request is an order
// with a few dozen lines.
const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// decimals compare as float64 under numeric tags such as gte=0
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	return v
}()

// tagMessages renders a failed tag; %s is the tag parameter.
var tagMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gt":       "must be greater than %s",
	"gte":      "must be %s or more",
	"lte":      "must be %s or less",
	"oneof":    "must be one of [%s]",
	"uuid":     "must be a valid uuid",
	"uuid4":    "must be a valid uuid",
	"email":    "must be a valid email",
}

// DecodeJSONBody strictly decodes a single JSON value into dest and runs its
// validate tags. Unknown fields and trailing data are rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return malformed(err)
	}
	if dec.More() {
		return malformed(errors.New("unexpected data after JSON body"))
	}

	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(dest); err != nil {
		if !errors.As(err, &fieldErrs) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
		}
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = describe(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

func malformed(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
