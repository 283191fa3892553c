package store

import (
	"errors"
	"fmt"
)

// Store errors
//
// ErrAuthentication is the only failure callers treat as an authentication
// problem; every other error is a protocol failure.
var (
	// ErrAuthentication indicates the store rejected the credentials
	ErrAuthentication = errors.New("store: authentication rejected")

	// ErrNotFound indicates the path does not exist at the latest revision
	ErrNotFound = errors.New("store: path not found")

	// ErrAlreadyExists indicates an add targeted an existing path
	ErrAlreadyExists = errors.New("store: path already exists")

	// ErrConflict indicates a concurrent commit changed the same nodes
	ErrConflict = errors.New("store: commit conflict")

	// ErrChecksumMismatch indicates delivered content does not match its checksum
	ErrChecksumMismatch = errors.New("store: checksum mismatch")

	// ErrEditorState indicates an edit call violated the scope rules
	ErrEditorState = errors.New("store: invalid editor state")

	// ErrNotRepository indicates no repository was found at the URL
	ErrNotRepository = errors.New("store: not a repository")

	// ErrUnsupportedScheme indicates no factory is registered for the URL scheme
	ErrUnsupportedScheme = errors.New("store: unsupported scheme")

	// ErrTooLarge indicates the edit exceeded the store's transaction limits
	ErrTooLarge = errors.New("store: edit too large")
)

// PathError records a store error together with the operation and path
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// IsAuthentication reports whether err is an authentication failure
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
