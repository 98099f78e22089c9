package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound matches every NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrTransient matches provider failures worth retrying.
	ErrTransient = errors.New("transient provider failure")
	// ErrIllegalTransition is returned when a status update does not follow
	// the lifecycle rules.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrConflict covers state conflicts such as deleting a document that is
	// being processed.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports one or more violations of input rules. It is never
// retried.
type ValidationError struct {
	Violations []string
}

func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFound(kind string, id any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ProviderError wraps a failed OCR or LLM call.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrTransient
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return true
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrIllegalTransition)
}
