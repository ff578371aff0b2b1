package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/hazyhaar/avreports/horosafe"
)

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch: %s: http %d", e.URL, e.StatusCode)
}

// ErrorClass categorizes a fetch failure.
type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClassTemporary ErrorClass = "temporary"  // 5xx, 408, timeout, connection errors
	ClassRateLimit ErrorClass = "rate_limit" // 429
	ClassNotFound  ErrorClass = "not_found"  // 404, 410
	ClassForbidden ErrorClass = "forbidden"  // 401, 403
	ClassClient    ErrorClass = "client"     // other 4xx
	ClassBlocked   ErrorClass = "blocked"    // URL refused before the request
	ClassTooLarge  ErrorClass = "too_large"
	ClassCanceled  ErrorClass = "canceled" // caller's context ended
	ClassUnknown   ErrorClass = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (c ErrorClass) Retryable() bool {
	return c == ClassTemporary || c == ClassRateLimit
}

// Classify maps a fetch error to its class. ctx is the caller's context: a
// deadline on ctx itself is a cancellation, while a per-attempt timeout is
// temporary.
func Classify(ctx context.Context, err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if ctx != nil && ctx.Err() != nil {
		return ClassCanceled
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return classifyStatus(he.StatusCode)
	}
	switch {
	case errors.Is(err, horosafe.ErrSSRF), errors.Is(err, horosafe.ErrUnsafeScheme), errors.Is(err, errInvalidURL):
		return ClassBlocked
	case errors.Is(err, horosafe.ErrTooLarge):
		return ClassTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTemporary
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ClassTemporary
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTemporary
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return ClassTemporary
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return ClassTemporary
	}
	if isNetworkError(strings.ToLower(err.Error())) {
		return ClassTemporary
	}
	return ClassUnknown
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusRequestTimeout || code >= 500:
		return ClassTemporary
	case code == http.StatusNotFound || code == http.StatusGone:
		return ClassNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassForbidden
	case code >= 400:
		return ClassClient
	}
	return ClassUnknown
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "tls handshake")
}
