package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate  = errors.New("concurrent update")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrSchemaDrift       = errors.New("schema drift")
	ErrUpstream          = errors.New("upstream failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError lists every product that failed the availability
// check, not only the first.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock: " + strings.Join(e.Details(), "; ")
}

func (e *InsufficientStockError) Details() []string {
	msgs := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		msgs = append(msgs, s.Message())
	}
	return msgs
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// SchemaDriftError means the store lacks a column the code expects.
// MigrationSQL is shown to operators so they can repair the schema.
type SchemaDriftError struct {
	Table        string
	Column       string
	MigrationSQL string
	Err          error
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift: column %s.%s is missing: %v", e.Table, e.Column, e.Err)
}

func (e *SchemaDriftError) Is(target error) bool { return target == ErrSchemaDrift }

func (e *SchemaDriftError) Unwrap() error { return e.Err }

type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
