package reasoning

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/kosmo/pkg/errclass"
)

// categoryForStatus maps provider HTTP status codes onto failure categories
func categoryForStatus(status int) errclass.Category {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errclass.CategoryAuthentication
	case status == http.StatusTooManyRequests:
		return errclass.CategoryRateLimit
	case status == http.StatusRequestTimeout:
		return errclass.CategoryTimeout
	case status == http.StatusNotFound:
		// Unknown model or endpoint.
		return errclass.CategoryConfiguration
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return errclass.CategoryValidation
	case status >= 500:
		return errclass.CategoryUnavailable
	default:
		return errclass.CategoryUnknown
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// apiError converts an SDK status error into a categorized error
func apiError(provider string, status int, resp *http.Response, err error) error {
	return &errclass.Error{
		Category:   categoryForStatus(status),
		Message:    provider + ": " + err.Error(),
		RetryAfter: retryAfter(resp),
		Err:        err,
	}
}

// transportError leaves context errors to the classifier and tags the rest as network failures
func transportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &errclass.Error{
		Category: errclass.CategoryNetwork,
		Message:  provider + ": " + err.Error(),
		Err:      err,
	}
}
