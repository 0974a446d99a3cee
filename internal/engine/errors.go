package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/sheet"
)

// QuotaExhaustedError is returned when a remote write kept hitting the
// store's rate limit until the retry budget ran out. It is the terminal
// "try again later" condition: the run should stop spending quota.
type QuotaExhaustedError struct {
	Attempts int
	Err      error
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("write quota exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *QuotaExhaustedError) Unwrap() error { return e.Err }

// IsQuotaExhausted reports whether err carries a QuotaExhaustedError.
func IsQuotaExhausted(err error) bool {
	var qe *QuotaExhaustedError
	return errors.As(err, &qe)
}

// IsQuotaError classifies an error from a remote write as a rate-limit
// rejection, either from the API's status code or from matching error text.
// Quota errors are retryable with backoff; anything else propagates.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *sheet.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimit()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "ratelimit") || strings.Contains(msg, "too many requests")
}
