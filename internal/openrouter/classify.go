package openrouter

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/stupiduntilnot/freepsy/internal/control"
)

// Classify maps an error returned by Client onto the failure taxonomy.
func Classify(err error) control.ErrorClass {
	if err == nil {
		return control.ClassNone
	}
	if errors.Is(err, ErrMalformedResponse) {
		return control.ClassMalformed
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == http.StatusTooManyRequests {
			return control.ClassRateLimited
		}
		return control.ClassUpstreamStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return control.ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return control.ClassTimeout
	}
	return control.ClassTransport
}
