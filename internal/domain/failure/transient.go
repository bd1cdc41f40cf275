package failure

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// StatusCarrier is implemented by errors that carry an HTTP response.
type StatusCarrier interface {
	StatusCode() int
	ResponseBody() []byte
}

// IsTransient reports whether err is a network failure worth retrying:
// refused or reset connections, DNS failures, dial errors and timeouts.
// Errors carrying an HTTP response are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCarrier
	if errors.As(err, &sc) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection dropped mid-response.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return true
	}
	return false
}
