package documents

import "errors"

var (
	// ErrNotFound means no document with the given id exists for the identity.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput rejects malformed fields before any remote call.
	ErrInvalidInput = errors.New("invalid input")
)
