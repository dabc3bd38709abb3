// Package errors provides standardized error types and helpers for the Carry codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a write raced with another writer
	ErrConflict = errors.New("conflict")
	// ErrInternal indicates an internal system error
	ErrInternal = errors.New("internal error")
)

// Passage resolution sentinels. Every *PassageError unwraps to exactly one of these.
var (
	ErrBookNotFound    = errors.New(string(KindBookNotFound))
	ErrChapterNotFound = errors.New(string(KindChapterNotFound))
	ErrVerseNotFound   = errors.New(string(KindVerseNotFound))
)

// PassageKind identifies why a passage reference could not be resolved.
type PassageKind string

// Passage error kinds.
const (
	KindBookNotFound    PassageKind = "ERROR_BOOK_NOT_FOUND"
	KindChapterNotFound PassageKind = "ERROR_CHAPTER_NOT_FOUND"
	KindVerseNotFound   PassageKind = "ERROR_VERSE_NOT_FOUND"
)

var passageMessages = map[PassageKind]string{
	KindBookNotFound:    "We can't recognise the book you've entered, please try entering the full name of the desired book.",
	KindChapterNotFound: "We can't find the chapter entered, please try again.",
	KindVerseNotFound:   "We can't find the verse entered, please try again.",
}

// Message returns the text shown to the user for this kind.
func (k PassageKind) Message() string {
	return passageMessages[k]
}

func (k PassageKind) sentinel() error {
	switch k {
	case KindBookNotFound:
		return ErrBookNotFound
	case KindChapterNotFound:
		return ErrChapterNotFound
	case KindVerseNotFound:
		return ErrVerseNotFound
	}
	return ErrInvalidInput
}

// PassageError is returned when free-text passage input cannot be resolved.
// Error() yields the user-facing message so it can be shown verbatim.
type PassageError struct {
	Kind  PassageKind // Which validation step failed
	Input string      // Raw input as typed
}

func (e *PassageError) Error() string {
	return e.Kind.Message()
}

func (e *PassageError) Unwrap() error {
	return e.Kind.sentinel()
}

// NewPassage creates a PassageError
func NewPassage(kind PassageKind, input string) *PassageError {
	return &PassageError{Kind: kind, Input: input}
}

// PassageKindOf returns the passage kind carried by err, if any.
func PassageKindOf(err error) (PassageKind, bool) {
	var pe *PassageError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// PassageInput returns the raw input carried by a passage error, or "".
func PassageInput(err error) string {
	var pe *PassageError
	if errors.As(err, &pe) {
		return pe.Input
	}
	return ""
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "plan", "book", "block")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ConflictError reports an optimistic-concurrency mismatch.
type ConflictError struct {
	Resource string
	ID       string
	Expected string // Hash the caller based its write on
	Actual   string // Hash currently stored
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (expected %s, have %s)", e.Resource, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewConflict creates a ConflictError
func NewConflict(resource, id, expected, actual string) *ConflictError {
	return &ConflictError{
		Resource: resource,
		ID:       id,
		Expected: expected,
		Actual:   actual,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
