/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"errors"
	"fmt"
)

// ErrEmptyKey is returned when a call is submitted without a coalescing key.
var ErrEmptyKey = errors.New("throttle: key must not be empty")

// ErrCanceled is returned to callers whose queued work was dropped by Instance.Clear.
var ErrCanceled = errors.New("throttle: queued call canceled")

// RetriesExhaustedError is returned when a call kept failing softly more times than allowed.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("throttle: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a unit of work.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("throttle: unit of work panicked: %v", e.Value)
}

// ResultTypeError is returned by Execute when a coalesced call produced a value of another type.
// It happens when different call sites share a key but expect different result types.
type ResultTypeError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("throttle: result for key %q has type %s, expected %s", e.Key, e.Actual, e.Expected)
}
