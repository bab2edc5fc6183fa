package span

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the linking rules. Typed errors below unwrap to these so
// callers can branch with errors.Is.
var (
	ErrInvalidRange         = errors.New("invalid range")
	ErrIncompatibleLanguage = errors.New("incompatible language")
	ErrConfirmedConflict    = errors.New("conflicts with a confirmed link")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotFound             = errors.New("not found")
	ErrPersistence          = errors.New("persistence failure")
	ErrInvalidNotes         = errors.New("invalid notes")
)

// RangeError reports offsets that cannot address the text.
type RangeError struct {
	Start  int
	End    int
	Length int
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range [%d, %d) for content of length %d: %s", e.Start, e.End, e.Length, e.Reason)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// LanguageError reports a word whose language differs from the text's.
type LanguageError struct {
	TextLanguage string
	WordLanguage string
}

func (e *LanguageError) Error() string {
	return fmt.Sprintf("word language %q does not match text language %q", e.WordLanguage, e.TextLanguage)
}

func (e *LanguageError) Unwrap() error { return ErrIncompatibleLanguage }

// ConflictError lists the confirmed spans that block a confirmation. The UI
// uses the ids to point the user at the link that has to be removed first.
type ConflictError struct {
	Range       Range
	Conflicting []Span
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicting))
	for _, s := range e.Conflicting {
		ids = append(ids, fmt.Sprintf("%s [%d, %d)", s.ID, s.Start, s.End))
	}
	return fmt.Sprintf("range [%d, %d) overlaps confirmed link(s) %s", e.Range.Start, e.Range.End, strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConfirmedConflict }

// TransitionError reports a disallowed status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("unknown status %q", e.To)
	}
	return fmt.Sprintf("cannot change status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError reports a missing span, word, text or document.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PersistenceError is returned once a storage call failed for good.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Is lets errors.Is match ErrPersistence while Unwrap exposes the cause.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// transientError marks a storage failure that may succeed when retried.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Storage adapters use it for lock
// contention, serialization failures and dropped connections.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
