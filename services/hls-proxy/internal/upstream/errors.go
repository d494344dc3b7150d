package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies an upstream failure for HTTP status mapping.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindRefused
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRefused:
		return "refused"
	case KindStatus:
		return "status"
	default:
		return "other"
	}
}

// StatusError is returned when the upstream answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.URL, e.StatusCode)
}

// CheckStatus returns a *StatusError for non-2xx responses.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode}
	}
	return nil
}

func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	return KindOther
}

// HTTPStatus maps an upstream failure to the status returned to clients.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRefused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
