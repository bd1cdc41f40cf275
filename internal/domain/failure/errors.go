package failure

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrMalformedResponse marks a response body that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNoCredential marks a call attempted without a valid credential.
	ErrNoCredential = errors.New("no valid credential")
)
