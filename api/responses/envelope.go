package responses

// SuccessEnvelope wraps every successful storefront response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape. Details only carry validation and
// stock information, never internal causes.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
