// Package store defines the contract of a remote tree-structured, versioned
// store: a read view over the latest committed revision and a nested-scope
// tree editor that turns a sequence of directory/file edits into a single
// atomic commit.
package store

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
)

// PropMimeType is the file property carrying the content type
const PropMimeType = "tree:mime-type"

// Entry describes one node of the tree at the latest revision
type Entry struct {
	// Name is the last path component ("" for the root)
	Name string `json:"name"`

	// Path is relative to the repository root, without leading separator
	Path string `json:"path"`

	Kind domain.NodeKind `json:"kind"`

	// Size in bytes (0 for directories)
	Size int64 `json:"size"`

	// ModTime is the date of the revision that last changed the node
	ModTime time.Time `json:"mod_time"`

	// Revision that last changed the node
	Revision int64 `json:"revision"`

	Author string `json:"author,omitempty"`

	// Checksum is the MD5 of the file content (empty for directories)
	Checksum string `json:"checksum,omitempty"`

	Properties map[string]string `json:"properties,omitempty"`
}

// IsDir returns true if this is a directory
func (e Entry) IsDir() bool {
	return e.Kind == domain.KindDir
}

// CommitInfo describes a committed revision
type CommitInfo struct {
	Revision int64     `json:"revision"`
	Date     time.Time `json:"date"`
	Author   string    `json:"author,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Repository is a session with a store.
// All paths are relative to the repository root and use forward slashes;
// "" denotes the root directory.
// Reads only ever observe committed revisions.
type Repository interface {
	// Root returns the repository root URL
	Root() *url.URL

	// CheckPath returns the kind of the node at path (KindNone if absent)
	CheckPath(ctx context.Context, path string) (domain.NodeKind, error)

	// Info returns the node at path, or nil without error if it does not exist
	Info(ctx context.Context, path string) (*Entry, error)

	// GetFile streams the content of the file at path into w
	// Returns ErrNotFound if path doesn't exist
	GetFile(ctx context.Context, path string, w io.Writer) (int64, error)

	// GetDir returns the direct children of the directory at path, sorted by name
	// Returns ErrNotFound if path doesn't exist
	GetDir(ctx context.Context, path string) ([]Entry, error)

	// CommitEditor starts a tree edit that will be committed with message
	CommitEditor(ctx context.Context, message string) (Editor, error)

	// Close releases any resources held by the session
	Close() error
}

// Editor drives a single tree edit.
//
// The edit is a nested scope: OpenRoot first, then directories and files are
// opened or added inside their already open parent, and directories are
// closed in exact reverse order. Nothing is visible to readers until
// CloseEdit returns; AbortEdit discards every buffered change. Once the edit
// is closed or aborted every call fails with ErrEditorState.
type Editor interface {
	OpenRoot() error

	// OpenDir opens an existing directory inside the current directory
	OpenDir(path string) error

	// AddDir creates a directory inside the current directory and opens it
	AddDir(path string) error

	// OpenFile opens an existing file inside the current directory
	OpenFile(path string) error

	// AddFile creates a file inside the current directory and opens it
	AddFile(path string) error

	// ChangeFileProperty sets (or with an empty value, removes) a property
	// of the open file
	ChangeFileProperty(path, name, value string) error

	// ApplyTextDelta starts replacing the content of the open file
	ApplyTextDelta(path string) error

	// TextDeltaChunk appends a window of new content
	TextDeltaChunk(path string, window []byte) error

	// CloseFile closes the open file; checksum is the MD5 of the new
	// content when a delta was applied
	CloseFile(path, checksum string) error

	// CloseDir closes the innermost open directory
	CloseDir() error

	// CloseEdit commits the edit as one revision
	CloseEdit(ctx context.Context) (*CommitInfo, error)

	// AbortEdit discards the edit
	AbortEdit() error
}

// Options are handed to a store factory when a session is opened
type Options struct {
	domain.Credentials

	// Author recorded on commits by stores that do not authenticate
	Author string

	// HTTPClient is used by network stores (nil = http.DefaultClient)
	HTTPClient *http.Client
}

// Factory opens a session for u
type Factory func(ctx context.Context, u *url.URL, opts Options) (Repository, error)
