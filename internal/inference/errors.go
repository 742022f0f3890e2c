package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
)

// asAPIError finds the SDK's error response in err's chain.
func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// Classify maps a remote error response onto the transport error kinds.
func Classify(e genai.APIError) apperr.Kind {
	switch {
	case e.Code == http.StatusUnauthorized,
		e.Code == http.StatusForbidden,
		e.Status == "UNAUTHENTICATED",
		e.Status == "PERMISSION_DENIED",
		strings.Contains(strings.ToLower(e.Message), "api key"):
		return apperr.KindRemoteAuth
	case e.Code == http.StatusTooManyRequests, e.Status == "RESOURCE_EXHAUSTED":
		return apperr.KindRemoteQuota
	case e.Code >= 500, e.Status == "UNAVAILABLE":
		return apperr.KindRemoteUnavailable
	case e.Code == http.StatusNotFound && strings.Contains(strings.ToLower(e.Message), "model"):
		return apperr.KindRemoteUnavailable
	default:
		return apperr.KindRemoteUnknown
	}
}

// classify turns an SDK failure into an *apperr.Error. Context errors pass
// through untouched; anything without an error response is a transport
// failure and counts as unavailable.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if apiErr, ok := asAPIError(err); ok {
		return apperr.Wrap(Classify(apiErr), op+" failed", err)
	}
	return apperr.Wrap(apperr.KindRemoteUnavailable, op+" request failed", err)
}
