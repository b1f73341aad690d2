package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a missing or malformed parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a reference that did not resolve.
type NotFoundError struct {
	Kind      EntityKind
	Reference string
}

func (e NotFoundError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("no %s found", e.Kind)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Reference)
}

// AmbiguousError reports a name reference matching more than one record.
// Candidates hold display titles with their ids.
type AmbiguousError struct {
	Kind       EntityKind
	Reference  string
	Candidates []Candidate
}

type Candidate struct {
	ID    string
	Title string
}

func (e AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%q (id %s)", c.Title, c.ID))
	}
	if e.Reference == "" {
		return fmt.Sprintf("which %s? candidates: %s", e.Kind, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s %q is ambiguous; candidates: %s", e.Kind, e.Reference, strings.Join(names, ", "))
}

// PartialBulkFailure reports a bulk call in which some items failed.
type PartialBulkFailure struct {
	Succeeded int
	Failed    int
	Errors    []error
}

func (e PartialBulkFailure) Error() string {
	return fmt.Sprintf("%d succeeded, %d failed", e.Succeeded, e.Failed)
}

func (e PartialBulkFailure) Unwrap() []error { return e.Errors }

// TransportError reports a broken or malformed assistant stream.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure; its message is surfaced verbatim.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string { return e.Err.Error() }

func (e StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError or AmbiguousError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	var amb AmbiguousError
	return errors.As(err, &nf) || errors.As(err, &amb)
}
