package models

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by services and handlers.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrOutOfStock     = errors.New("no account available for this service")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrUpstream       = errors.New("payment provider unavailable")
	ErrInternal       = errors.New("internal error")
)

// UndeliveredError reports a generation whose line left the pool but could
// neither be recorded nor returned to it. The caller must hand Generation to
// the user, otherwise the line is lost.
type UndeliveredError struct {
	Generation Generation
	Err        error
}

func (e *UndeliveredError) Error() string {
	return fmt.Sprintf("generation %s for %s not recorded: %v", e.Generation.ID, e.Generation.Service, e.Err)
}

func (e *UndeliveredError) Unwrap() error { return e.Err }
