package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harun/kosmo/pkg/errclass"
)

const maxErrorBody = 512

// statusCategory maps a tool backend's HTTP status onto a failure category
func statusCategory(status int) errclass.Category {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errclass.CategoryAuthentication
	case status == http.StatusTooManyRequests:
		return errclass.CategoryRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return errclass.CategoryTimeout
	case status == http.StatusNotFound:
		return errclass.CategoryNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return errclass.CategoryValidation
	case status >= 500:
		return errclass.CategoryUnavailable
	default:
		return errclass.CategoryUnknown
	}
}

// statusError builds the categorized error for a non-200 response
func statusError(tool, backend string, resp *http.Response) error {
	body := readErrorBody(resp.Body)
	msg := fmt.Sprintf("%s returned HTTP %d", backend, resp.StatusCode)
	if body != "" {
		msg += ": " + body
	}

	e := errclass.New(statusCategory(resp.StatusCode), "%s", msg)
	e.Tool = tool
	if value := resp.Header.Get("Retry-After"); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// requestError tags transport failures. Context errors are left to the classifier.
func requestError(tool, backend string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &errclass.Error{
		Category: errclass.CategoryNetwork,
		Tool:     tool,
		Message:  fmt.Sprintf("%s request failed: %v", backend, err),
		Err:      err,
	}
}

func decodeError(tool, backend string, err error) error {
	return &errclass.Error{
		Category: errclass.CategoryMalformedOutput,
		Tool:     tool,
		Message:  fmt.Sprintf("%s: decode response: %v", backend, err),
		Err:      err,
	}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
