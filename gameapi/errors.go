package gameapi

import (
	"errors"
	"fmt"
)

// ErrNotFound means the game API answered and the account does not exist.
var ErrNotFound = errors.New("game account not found")

// UpstreamError covers every other failure: timeouts, transport errors,
// non-2xx answers and undecodable bodies. Callers treat it as transient.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status != 0 {
		return fmt.Sprintf("game api %s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("game api %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
