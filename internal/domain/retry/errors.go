package retry

import (
	"errors"
)

// ErrExhausted is wrapped together with the last error once all attempts fail.
var ErrExhausted = errors.New("retry attempts exhausted")
