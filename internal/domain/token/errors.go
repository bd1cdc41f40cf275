package token

import "errors"

// Sentinel kinds for token failures.
var (
	ErrInvalid  = errors.New("invalid token")
	ErrExpired  = errors.New("token expired")
	ErrNoSecret = errors.New("signing secret is empty")
)
