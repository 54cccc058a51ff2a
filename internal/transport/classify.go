package transport

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/resend/resend-go/v3"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
)

var (
	transientPatterns = []string{
		"429", "500", "502", "503", "504",
		"rate limit", "too many requests", "timeout", "temporar",
		"connection reset", "connection refused", "eof", "unavailable",
	}
	configPatterns = []string{
		"401", "403", "api key", "unauthorized", "forbidden", "domain is not verified",
	}
)

// Classify maps a provider error onto the delivery error taxonomy. Typed
// resend-go errors are checked first; message matching is the fallback for
// API errors the client only reports as text.
// Unknown errors are treated as transient; the attempt ceiling bounds them.
func Classify(err error) (wrapped error, retryable bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, resend.ErrRateLimit) {
		return appErrors.NewTransientProviderError(err), true
	}
	var missing *resend.MissingRequiredFieldsError
	if errors.As(err, &missing) {
		return appErrors.NewPermanentProviderError(err), false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewTransientProviderError(err), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return appErrors.NewTransientProviderError(err), true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range configPatterns {
		if strings.Contains(msg, p) {
			return appErrors.NewConfigurationError("transport", err.Error()), false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return appErrors.NewTransientProviderError(err), true
		}
	}
	if strings.Contains(msg, "400") || strings.Contains(msg, "422") ||
		strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") {
		return appErrors.NewPermanentProviderError(err), false
	}
	return appErrors.NewTransientProviderError(err), true
}

// Failure builds a failed Result from a provider error.
func Failure(err error) Result {
	wrapped, retryable := Classify(err)
	return Result{Err: wrapped, Retryable: retryable}
}
