package domain

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when an operation requiring a
// signed-in identity is attempted while signed out.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrProfileNotFound is returned by a record store when no profile
// document exists for the requested owner.
var ErrProfileNotFound = errors.New("profile not found")

// MalformedRecordError marks a record that cannot yield an ImageKey.
// Batch processing skips such records with a warning; they are never
// fatal to the batch.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return "malformed record: " + e.Reason
}

// ProfileUnavailableError means owner resolution failed. The result is
// never cached, so a later attempt may succeed.
type ProfileUnavailableError struct {
	Owner string
	Err   error
}

func (e *ProfileUnavailableError) Error() string {
	return fmt.Sprintf("profile for owner %q unavailable: %v", e.Owner, e.Err)
}

func (e *ProfileUnavailableError) Unwrap() error { return e.Err }

// PartialDeleteFailureError means an interactive delete left the system
// inconsistent: one of the blob or the document was removed and the
// other was not. It is surfaced so the caller can reconcile; it is
// never retried automatically.
type PartialDeleteFailureError struct {
	Key             ImageKey
	BlobRemoved     bool
	DocumentRemoved bool
	Err             error
}

func (e *PartialDeleteFailureError) Error() string {
	return fmt.Sprintf("partial delete of %s (blob removed: %t, document removed: %t): %v",
		e.Key, e.BlobRemoved, e.DocumentRemoved, e.Err)
}

func (e *PartialDeleteFailureError) Unwrap() error { return e.Err }
