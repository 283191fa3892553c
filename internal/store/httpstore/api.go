package httpstore

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

// Wire protocol shared with the repository server.
//
//	OPTIONS <root>/<path>            root discovery (HeaderRoot, HeaderUUID)
//	GET     <root>/!api/stat/<path>  store.Entry
//	GET     <root>/!api/list/<path>  []store.Entry
//	GET     <root>/!api/content/<path>
//	POST    <root>/!api/commit       CommitRequest -> store.CommitInfo
//	GET     <root>/!api/log?limit=n  []store.CommitInfo
const (
	HeaderRoot = "X-Tree-Root"
	HeaderUUID = "X-Tree-UUID"

	APISegment = "!api"
)

// Edit operation names
const (
	OpOpenRoot   = "open-root"
	OpOpenDir    = "open-dir"
	OpAddDir     = "add-dir"
	OpOpenFile   = "open-file"
	OpAddFile    = "add-file"
	OpChangeProp = "change-prop"
	OpDelta      = "apply-delta"
	OpChunk      = "delta-chunk"
	OpCloseFile  = "close-file"
	OpCloseDir   = "close-dir"
)

// Op is one recorded editor call
type Op struct {
	Op       string `json:"op"`
	Path     string `json:"path,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// CommitRequest carries a whole tree edit
type CommitRequest struct {
	Message string `json:"message"`
	Ops     []Op   `json:"ops"`
}

// ContentTypeProblemJSON is the Content-Type of error responses
const ContentTypeProblemJSON = "application/problem+json"

// Problem is the RFC 7807 body of every non-2xx API response. Code carries
// the store error so clients can map it back.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Error codes
const (
	CodeNotFound         = "not_found"
	CodeAlreadyExists    = "already_exists"
	CodeConflict         = "conflict"
	CodeChecksumMismatch = "checksum_mismatch"
	CodeEditorState      = "editor_state"
	CodeNotDirectory     = "not_directory"
	CodeNotFile          = "not_file"
	CodeTooLarge         = "too_large"
	CodeUnauthorized     = "unauthorized"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

var codeErrors = []struct {
	code   string
	status int
	err    error
}{
	{CodeNotFound, http.StatusNotFound, store.ErrNotFound},
	{CodeAlreadyExists, http.StatusConflict, store.ErrAlreadyExists},
	{CodeConflict, http.StatusConflict, store.ErrConflict},
	{CodeChecksumMismatch, http.StatusUnprocessableEntity, store.ErrChecksumMismatch},
	{CodeEditorState, http.StatusBadRequest, store.ErrEditorState},
	{CodeNotDirectory, http.StatusBadRequest, domain.ErrNotDirectory},
	{CodeNotFile, http.StatusBadRequest, domain.ErrNotFile},
	{CodeTooLarge, http.StatusRequestEntityTooLarge, store.ErrTooLarge},
	{CodeUnauthorized, http.StatusUnauthorized, store.ErrAuthentication},
}

// ErrorCode returns the wire code and HTTP status for a store error
func ErrorCode(err error) (string, int) {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code, ce.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// codeError converts a wire error back to a store error
func codeError(status int, body Problem) error {
	for _, ce := range codeErrors {
		if ce.code == body.Code {
			return fmt.Errorf("%w: %s", ce.err, body.Detail)
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", store.ErrAuthentication, http.StatusText(status))
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, body.Detail)
	}
	if body.Detail == "" {
		body.Detail = http.StatusText(status)
	}
	return fmt.Errorf("server error (%d): %s", status, body.Detail)
}

// EscapePath escapes every segment of a repository path
func EscapePath(p string) string {
	if p == "" {
		return ""
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Replay drives editor with recorded operations. It stops at the first
// failing call; the caller aborts the edit.
func Replay(editor store.Editor, ops []Op) error {
	for i, op := range ops {
		var err error
		switch op.Op {
		case OpOpenRoot:
			err = editor.OpenRoot()
		case OpOpenDir:
			err = editor.OpenDir(op.Path)
		case OpAddDir:
			err = editor.AddDir(op.Path)
		case OpOpenFile:
			err = editor.OpenFile(op.Path)
		case OpAddFile:
			err = editor.AddFile(op.Path)
		case OpChangeProp:
			err = editor.ChangeFileProperty(op.Path, op.Name, op.Value)
		case OpDelta:
			err = editor.ApplyTextDelta(op.Path)
		case OpChunk:
			err = editor.TextDeltaChunk(op.Path, op.Data)
		case OpCloseFile:
			err = editor.CloseFile(op.Path, op.Checksum)
		case OpCloseDir:
			err = editor.CloseDir()
		default:
			err = fmt.Errorf("%w: unknown operation %q", store.ErrEditorState, op.Op)
		}
		if err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Op, err)
		}
	}
	return nil
}
