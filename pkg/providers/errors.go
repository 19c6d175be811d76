package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"repowatch/pkg/platform"
)

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrNetwork         = errors.New("network error")
	ErrInvalidResponse = errors.New("invalid response")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("not found")
	ErrInvalidToken    = errors.New("invalid token")
	ErrUnsupported     = errors.New("operation not supported by platform")
	ErrHTTP            = errors.New("http error")
)

// Error is the concrete failure returned by platform clients. Kind is one of
// the Err* sentinels, so errors.Is matches on it.
type Error struct {
	Kind       error
	Platform   platform.Platform
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error of the given kind.
func NewError(kind error, p platform.Platform, op string, cause error) *Error {
	return &Error{Kind: kind, Platform: p, Op: op, Err: cause}
}

// Unsupported reports an operation the platform does not offer.
func Unsupported(p platform.Platform, op string) error {
	return &Error{Kind: ErrUnsupported, Platform: p, Op: op}
}

// FromStatus maps an HTTP status to an error kind. rateLimited lets callers
// flag platform-specific throttling signals on otherwise ambiguous statuses.
func FromStatus(p platform.Platform, op string, status int, message string, rateLimited bool) error {
	kind := ErrHTTP
	switch {
	case rateLimited || status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status == http.StatusUnauthorized:
		kind = ErrInvalidToken
	case status == http.StatusNotFound:
		kind = ErrNotFound
	}
	return &Error{Kind: kind, Platform: p, Op: op, StatusCode: status, Message: message}
}

// FromTransport classifies an error raised before a response was received.
// When ctx itself is done its error is returned, so cancellation is never
// reported as a network failure.
func FromTransport(ctx context.Context, p platform.Platform, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return NewError(ErrNetwork, p, op, err)
}

// IsRateLimited reports whether err carries the rate-limit kind.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsAbsent reports failures that mean "the platform has nothing to report".
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupported)
}
