package client

import (
	"fmt"
)

// StatusError is returned when the backend answers with an unexpected status.
// It satisfies failure.StatusCarrier.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Status }

// ResponseBody returns the (possibly truncated) response body.
func (e *StatusError) ResponseBody() []byte { return e.Body }
