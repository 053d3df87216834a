package core

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceMissing is returned when a cache lookup targets a key that was never inserted.
	ErrResourceMissing = errors.New("resource missing")
	// ErrConstructionFailure wraps driver or compiler errors raised while building a GPU object.
	ErrConstructionFailure = errors.New("construction failure")
	// ErrSwapchainOutOfDate is recoverable and never leaves the frame synchronizer.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	// ErrSwapchainFatal covers acquisition/presentation failures unrelated to out-of-date.
	ErrSwapchainFatal = errors.New("swapchain fatal")
	// ErrReflectionConflict means one binding is claimed by two incompatible resource kinds.
	ErrReflectionConflict = errors.New("reflection conflict")
	// ErrInvalidCallSequence is returned when the per-frame call order is violated.
	ErrInvalidCallSequence = errors.New("invalid call sequence")
	// ErrSwapchainBooting is returned while the swapchain cannot be built (minimized surface).
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
)

// GPUError names the failing operation and the native result code returned by the backend.
type GPUError struct {
	Kind   error
	Op     string
	Code   int32
	Result string
	Err    error
}

func NewGPUError(kind error, op string, code int32, result string) *GPUError {
	return &GPUError{
		Kind:   kind,
		Op:     op,
		Code:   code,
		Result: result,
	}
}

func (e *GPUError) Error() string {
	msg := fmt.Sprintf("%s: %s failed with %s (%d)", e.Kind, e.Op, e.Result, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GPUError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap attaches a cause to the error.
func (e *GPUError) Wrap(err error) *GPUError {
	e.Err = err
	return e
}

// IsRecoverable reports whether err is resolved by rebuilding the swapchain.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate)
}
