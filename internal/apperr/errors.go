// Package apperr defines the error kinds shared across service layers.
// Handlers map them to HTTP status codes in one place.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or invalid required field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// NotFoundError reports an unknown or cross-tenant identifier. It never
// distinguishes "does not exist" from "belongs to another user".
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// ProviderError wraps a failure from a data provider or LLM backend.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func Provider(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

// ConflictError reports a unique-constraint violation that survived a retry.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(msg string) error {
	return &ConflictError{Msg: msg}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
