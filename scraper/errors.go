package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind categorises a failed fetch. The value is also the metrics label.
type FailureKind string

const (
	FailureUnknown     FailureKind = "unknown"
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection"
	FailureForbidden   FailureKind = "forbidden"
	FailureNotFound    FailureKind = "not_found"
	FailureRateLimited FailureKind = "rate_limited"
	FailureStatus      FailureKind = "http_status"
	FailureCanceled    FailureKind = "canceled"
	FailureOther       FailureKind = "other"
)

// ErrPageNotFound matches any FetchError caused by an HTTP 404.
var ErrPageNotFound = errors.New("scraper: page not found")

// FetchError is returned by Fetcher.Fetch for every failed request.
type FetchError struct {
	URL        string
	Phase      string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): %s %d: %v", e.URL, e.Phase, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %s: %v", e.URL, e.Phase, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrPageNotFound && e.Kind == FailureNotFound
}

// Retryable reports whether the same request may succeed later.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FailureTimeout, FailureConnection, FailureRateLimited:
		return true
	case FailureStatus:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

func newFetchError(pageURL, phase string, err error, statusCode int) *FetchError {
	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}
	return &FetchError{
		URL:        pageURL,
		Phase:      phase,
		Kind:       classify(err, statusCode),
		StatusCode: statusCode,
		Err:        err,
	}
}

// classify inspects transport errors first, then the status code.
func classify(err error, statusCode int) FailureKind {
	if err == nil && statusCode == 0 {
		return FailureUnknown
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection
	}

	switch {
	case statusCode == http.StatusForbidden:
		return FailureForbidden
	case statusCode == http.StatusNotFound:
		return FailureNotFound
	case statusCode == http.StatusTooManyRequests:
		return FailureRateLimited
	case statusCode != 0 && (statusCode < 200 || statusCode > 299):
		return FailureStatus
	}
	return FailureOther
}

// errorTypeLabel returns the failure kind of err for logs and metrics.
func errorTypeLabel(err error) string {
	if err == nil {
		return string(FailureUnknown)
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return string(classify(err, 0))
}
