package gmail

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// rateLimitReasons are 403 reasons Gmail uses for throttling.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// IsTransient reports whether a Gmail API error is worth retrying.
// API errors are retried on throttling and server errors only; transport
// failures (timeouts, resets, truncated bodies) are always retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code == http.StatusRequestTimeout,
		apiErr.Code >= http.StatusInternalServerError:
		return true
	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if rateLimitReasons[item.Reason] {
				return true
			}
		}
	}
	return false
}
