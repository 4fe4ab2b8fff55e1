package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coregate/gateway/internal/gwerrors"
)

func TestClassifyErrMapsGatewayErrorKinds(t *testing.T) {
	cases := []struct {
		kind   gwerrors.Kind
		status int
	}{
		{gwerrors.KindBadRequest, http.StatusBadRequest},
		{gwerrors.KindAuthFailed, http.StatusUnauthorized},
		{gwerrors.KindBudgetExceeded, http.StatusForbidden},
		{gwerrors.KindModelNotFound, http.StatusNotFound},
		{gwerrors.KindRateLimitExceeded, http.StatusTooManyRequests},
		{gwerrors.KindProviderUnavailable, http.StatusBadGateway},
		{gwerrors.KindCircuitOpen, http.StatusBadGateway},
		{gwerrors.KindUpstreamError, http.StatusBadGateway},
		{gwerrors.KindTimeout, http.StatusGatewayTimeout},
		{gwerrors.KindInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := gwerrors.New(tc.kind, "boom")
		p := classifyErr(err)
		require.Equal(t, tc.status, p.Status, "kind %s", tc.kind)
		require.Equal(t, string(tc.kind), p.Code)
	}
}

func TestClassifyErrFallsBackToInternalErrorForPlainErrors(t *testing.T) {
	p := classifyErr(errNotAGatewayError{})
	require.Equal(t, http.StatusInternalServerError, p.Status)
	require.Equal(t, string(gwerrors.KindInternalError), p.Code)
}

type errNotAGatewayError struct{}

func (errNotAGatewayError) Error() string { return "plain error" }

func TestClassifyErrCarriesProviderExtension(t *testing.T) {
	err := &gwerrors.GatewayError{Kind: gwerrors.KindProviderUnavailable, Detail: "down", Provider: "openai"}
	p := classifyErr(err)
	require.Equal(t, "openai", p.Extensions.Provider)
}
