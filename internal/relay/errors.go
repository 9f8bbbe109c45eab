package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrMissingParameter is returned when a relay call carries no url.
	ErrMissingParameter = errors.New("missing url parameter")
	// ErrUpstreamFetch wraps every failure to retrieve the target page.
	ErrUpstreamFetch = errors.New("upstream request failed")
)

// UpstreamErrorKind classifies why an upstream fetch failed.
type UpstreamErrorKind string

// Upstream failure kinds, also used as metrics labels.
const (
	KindTimeout    UpstreamErrorKind = "timeout"
	KindConnection UpstreamErrorKind = "connection"
	KindStatus     UpstreamErrorKind = "status"
	KindBody       UpstreamErrorKind = "body"
	KindRequest    UpstreamErrorKind = "request"
)

// UpstreamError is the typed form of ErrUpstreamFetch.
type UpstreamError struct {
	Kind   UpstreamErrorKind
	URL    string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("request to %s failed with status code %d", e.URL, e.Status)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s error fetching %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s error fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamFetch}
	}
	return []error{ErrUpstreamFetch, e.Err}
}

// classify maps a transport error onto an UpstreamError kind.
func classify(target string, err error) *UpstreamError {
	kind := KindConnection
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &UpstreamError{Kind: kind, URL: target, Err: err}
}

// errorTypeLabel is the metrics label for a failed relay call.
func errorTypeLabel(err error) string {
	if errors.Is(err, ErrMissingParameter) {
		return "missing_parameter"
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return string(up.Kind)
	}
	return "other"
}
