package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	CodeItemNotFound            Code = "ITEM_NOT_FOUND"
	CodeInsufficientStock       Code = "INSUFFICIENT_STOCK"
	CodeOrderNotFound           Code = "ORDER_NOT_FOUND"
	CodeAlreadyCancelled        Code = "ALREADY_CANCELLED"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeGatewayRejected         Code = "GATEWAY_REJECTED"
	CodeGatewayUnreachable      Code = "GATEWAY_UNREACHABLE"
	CodeStorageFailure          Code = "STORAGE_FAILURE"
)

// Metadata is how a code surfaces over HTTP. PublicMessage is used unless the
// response layer allows the error's own message through.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type metaOption func(*Metadata)

func retryable(m *Metadata)   { m.Retryable = true }
func withDetails(m *Metadata) { m.DetailsAllowed = true }

func meta(status int, public string, opts ...metaOption) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized: meta(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:    meta(http.StatusForbidden, "access denied"),
	CodeNotFound:     meta(http.StatusNotFound, "resource not found"),
	CodeConflict:     meta(http.StatusConflict, "conflict detected"),
	CodeIdempotency:  meta(http.StatusConflict, "idempotency key reused", withDetails),
	CodeInternal:     meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:   meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),

	CodeItemNotFound:            meta(http.StatusNotFound, "item not found", withDetails),
	CodeInsufficientStock:       meta(http.StatusBadRequest, "insufficient stock", withDetails),
	CodeOrderNotFound:           meta(http.StatusNotFound, "order not found"),
	CodeAlreadyCancelled:        meta(http.StatusBadRequest, "order already cancelled"),
	CodeInvalidStatusTransition: meta(http.StatusBadRequest, "invalid status transition", withDetails),
	CodeGatewayRejected:         meta(http.StatusBadRequest, "payment gateway rejected the request", withDetails),
	CodeGatewayUnreachable:      meta(http.StatusBadGateway, "payment gateway unreachable", retryable),
	CodeStorageFailure:          meta(http.StatusInternalServerError, "storage failure", retryable),
}

// MetadataFor falls back to the INTERNAL_ERROR entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. The code picks the HTTP status; the message and
// details describe this occurrence; the cause stays internal.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// The accessors tolerate a nil receiver so callers can chain off As.

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the client-visible details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, ""))
// works as a code check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}
