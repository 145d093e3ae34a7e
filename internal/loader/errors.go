package loader

import (
	"errors"
	"fmt"
)

// Error kinds. Every terminal failure wraps exactly one of them.
var (
	ErrInput       = errors.New("invalid input")
	ErrSession     = errors.New("session error")
	ErrCook        = errors.New("cook failed")
	ErrVolumeShape = errors.New("unsupported volume layout")
)

// Task usage errors. ErrStopped is cancellation, not a failure status.
var (
	ErrStopped    = errors.New("load stopped")
	ErrAlreadyRun = errors.New("task already run")
	ErrNotSetup   = errors.New("task not set up")
)

// LoadError is a classified terminal load failure.
type LoadError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func inputErrorf(format string, args ...any) error {
	return &LoadError{Kind: ErrInput, Msg: fmt.Sprintf(format, args...)}
}

func sessionError(call string, err error) error {
	return &LoadError{Kind: ErrSession, Msg: call, Err: err}
}

func shapeErrorf(format string, args ...any) error {
	return &LoadError{Kind: ErrVolumeShape, Msg: fmt.Sprintf(format, args...)}
}
