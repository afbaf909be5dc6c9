package neboa

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDocument is returned when a payload is not a keyed object
	// (nil, an array or a scalar). No storage access happens in that case.
	ErrInvalidDocument = errors.New("document must be a non-nil object")

	// ErrDocumentNotFound is returned by single-document operations on an
	// id that does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidCollectionName is returned for names that are not plain
	// identifiers.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrLengthMismatch is returned when ids and documents passed to
	// UpdateMany differ in length.
	ErrLengthMismatch = errors.New("ids and documents length mismatch")

	// ErrInvalidSubscription is returned for an unknown event or scope, a
	// nil callback or a query scoped subscription without a query.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrSchemaViolation is returned when a document does not satisfy the
	// collection schema.
	ErrSchemaViolation = errors.New("document invalid against schema")

	// ErrInvalidFilter is returned for malformed filter documents.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database is closed")
)

// NotifyError reports that a mutation was committed but notifying its
// subscribers failed. The mutation's result is returned alongside it.
type NotifyError struct {
	Collection string
	Event      Event
	Err        error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s subscribers of %s: %v", e.Event, e.Collection, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}
