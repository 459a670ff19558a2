package core

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed model output such as an unparseable plan.
var ErrValidation = errors.New("validation error")

// ErrStageTimeout is returned when a stage exceeds workflow.stage_timeout.
var ErrStageTimeout = errors.New("stage timed out")

// ProviderError wraps a failing model or search call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) || errors.Is(err, ErrStageTimeout) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}
