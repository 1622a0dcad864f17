package lavalink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrUnauthorized      = errors.New("node rejected credentials")
	ErrMalformedResponse = errors.New("node returned an empty or malformed response")
	ErrNoSession         = errors.New("node has no websocket session")
)

// StatusError is returned when a node answers a REST call with a
// non-success status that is not an authentication failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("node responded with status %d", e.Code)
	}
	return fmt.Sprintf("node responded with status %d: %s", e.Code, e.Body)
}

var _ error = (*StatusError)(nil)

// IsRateLimited reports whether err means the node is throttling us.
// Empty or undecodable bodies count, since nodes under pressure
// tend to answer with those instead of a proper 429.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests
}

// IsTimeout reports whether err came from a deadline expiring.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
