// Package obs carries the ambient observability stack: structured logging
// and operation-labelled error wrapping.
package obs

import "fmt"

// OpError wraps an error with the name of the operation that produced it,
// so logs stay inspectable without losing the underlying cause.
type OpError struct {
	Operation string
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapErr wraps err with the given operation label. Returns nil if err is
// nil.
func WrapErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Operation: operation, Err: err}
}
