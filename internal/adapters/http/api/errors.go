package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrServe      = errors.New("backend serve failed")
)

// rejection is a write refused by the command side, rendered with its status.
type rejection struct {
	status int
	msg    string
}

func (r *rejection) Error() string { return r.msg }

func reject(status int, msg string) error {
	return &rejection{status: status, msg: msg}
}
