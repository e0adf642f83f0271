package provider

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoAPIKey is surfaced when a tenant has no provider credentials
// configured. It is a configuration error: callers report it, never retry it.
var ErrNoAPIKey = errors.New("provider: tenant has no API key configured")

// Reason categorizes why a provider request failed. The orchestrator does no
// retrying itself; the reason exists so callers and metrics can tell
// transient failures from configuration ones.
type Reason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402, insufficient_quota).
	ReasonBilling Reason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth Reason = "auth"

	// ReasonNotFound indicates a missing upstream resource (HTTP 404),
	// e.g. a vector store that was deleted out from under the tenant mapping.
	ReasonNotFound Reason = "not_found"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError Reason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400, 422).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether a retry by the job layer may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// APIError is a provider request failure with its HTTP status preserved.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: %s (status %d, type %s)", e.Message, e.StatusCode, e.Type)
}

// Classify maps an error to a failure reason. It understands both this
// package's APIError and go-openai's, so vector-store calls classify the
// same way as response calls.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	status := 0
	var apiErr *APIError
	var oaiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
		if apiErr.Code == "insufficient_quota" {
			return ReasonBilling
		}
	case errors.As(err, &oaiErr):
		status = oaiErr.HTTPStatusCode
	default:
		return ReasonUnknown
	}

	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusNotFound:
		return ReasonNotFound
	case status >= 500:
		return ReasonServerError
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// IsNotFound reports whether the error is a 404-class provider failure.
func IsNotFound(err error) bool {
	return Classify(err) == ReasonNotFound
}
