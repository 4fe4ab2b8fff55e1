// Package gwerrors defines the gateway's error taxonomy (§7) and the
// provider-boundary status type adapters classify HTTP responses into.
package gwerrors

import (
	"fmt"
	"strconv"
)

// Kind is one of the closed set of error codes from §7. Kinds, not Go error
// types, are what retry/fallback/pipeline logic branches on.
type Kind string

const (
	KindModelNotFound       Kind = "model_not_found"
	KindProviderNotFound    Kind = "provider_not_found"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindAuthFailed          Kind = "auth_failed"
	KindBadRequest          Kind = "bad_request"
	KindTimeout             Kind = "timeout"
	KindContentFiltered     Kind = "content_filtered"
	KindBudgetExceeded      Kind = "budget_exceeded"
	KindCircuitOpen         Kind = "circuit_open"
	KindRoutingLoop         Kind = "routing_loop"
	KindNotSupported        Kind = "not_supported"
	KindUpstreamError       Kind = "upstream_error"
	KindInternalError       Kind = "internal_error"
)

// httpStatus is the §6 exit-status encoding for each kind.
var httpStatus = map[Kind]int{
	KindBadRequest:          400,
	KindAuthFailed:          401,
	KindContentFiltered:     403,
	KindBudgetExceeded:      403,
	KindModelNotFound:       404,
	KindProviderNotFound:    404,
	KindTimeout:             504,
	KindRateLimitExceeded:   429,
	KindProviderUnavailable: 502,
	KindCircuitOpen:         502, // surfaces as provider_unavailable per §7
	KindRoutingLoop:         500,
	KindNotSupported:        400,
	KindUpstreamError:       502,
	KindInternalError:       500,
}

// HTTPStatus returns the status code §6 assigns to a Kind, defaulting to 500.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// retryable is the set §5/§7 allow a retry loop to consume budget on.
var retryable = map[Kind]bool{
	KindTimeout:             true,
	KindRateLimitExceeded:   true,
	KindProviderUnavailable: true,
}

// Retryable reports whether the retry policy (C5) may re-attempt this kind.
func (k Kind) Retryable() bool { return retryable[k] }

// GatewayError is the classified error carried from adapter through
// retry/fallback/pipeline. Implements error.
type GatewayError struct {
	Kind          Kind
	Detail        string
	Provider      string
	CorrelationID string
	// RetryAfterSecs, when > 0, is the upstream-declared backoff floor.
	RetryAfterSecs int
	cause          error
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.cause }

// New builds a GatewayError of the given kind.
func New(kind Kind, detail string) *GatewayError {
	return &GatewayError{Kind: kind, Detail: detail}
}

// Wrap classifies an underlying error into a GatewayError, preserving it
// via Unwrap for diagnostics.
func Wrap(kind Kind, cause error) *GatewayError {
	if cause == nil {
		return &GatewayError{Kind: kind}
	}
	return &GatewayError{Kind: kind, Detail: cause.Error(), cause: cause}
}

// As reports whether err is (or wraps) a *GatewayError and returns it.
func As(err error) (*GatewayError, bool) {
	for err != nil {
		if ge, ok := err.(*GatewayError); ok {
			return ge, true
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}
	return nil, false
}

// StatusError carries the raw HTTP detail from a provider's non-2xx
// response, before it has been classified into a Kind. Adapters build this
// at the HTTP boundary (internal/provider/http.go) and classifyStatus turns
// it into a GatewayError.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value (seconds form;
// HTTP-date form is not used by any provider in this gateway's pack) and
// records it on the StatusError for the retry policy to honor.
func (e *StatusError) ParseRetryAfter(headerValue string) {
	if headerValue == "" {
		return
	}
	secs, err := strconv.Atoi(headerValue)
	if err != nil || secs < 0 {
		return
	}
	e.RetryAfterSecs = secs
}
