package badgerstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Ning0612/Treewagon/internal/core/checksum"
	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/store"
)

// Editor is a tree edit running inside a single Badger write transaction.
// It implements store.Editor.
type Editor struct {
	repo    *Repository
	txn     *badger.Txn
	message string
	author  string
	log     logger.Logger

	rootOpened bool
	dirs       []string  // open directory scopes, innermost last
	file       *openFile // open file scope
	changed    map[string]struct{}
	done       bool
}

type openFile struct {
	path    string
	node    *node
	dirty   bool
	delta   bool
	content bytes.Buffer
	hash    hash.Hash
}

func newEditor(r *Repository, message, author string) *Editor {
	return &Editor{
		repo:    r,
		txn:     r.h.db.NewTransaction(true),
		message: message,
		author:  author,
		log:     r.log,
		changed: make(map[string]struct{}),
	}
}

func (e *Editor) stateError(op, p, reason string) error {
	return &store.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %s", store.ErrEditorState, reason)}
}

// checkScope validates that p can be touched from the current scope
func (e *Editor) checkScope(op, p string) (string, error) {
	if e.done {
		return "", e.stateError(op, p, "edit already closed")
	}
	if !e.rootOpened || len(e.dirs) == 0 {
		return "", e.stateError(op, p, "no directory open")
	}
	if e.file != nil {
		return "", e.stateError(op, p, "a file is still open")
	}
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", e.stateError(op, p, "cannot edit the root")
	}
	if parent := parentOf(clean); parent != e.dirs[len(e.dirs)-1] {
		return "", e.stateError(op, p, "parent directory is not the current scope")
	}
	return clean, nil
}

func (e *Editor) putNode(p string, n *node) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	return mapError(e.txn.Set(keyNode(p), data))
}

// add creates a node under the current directory
func (e *Editor) add(op, p string, n *node) (string, error) {
	clean, err := e.checkScope(op, p)
	if err != nil {
		return "", err
	}
	existing, err := getNode(e.txn, clean)
	if err != nil {
		return "", mapError(err)
	}
	if existing != nil {
		return "", &store.PathError{Op: op, Path: clean, Err: store.ErrAlreadyExists}
	}

	if err := e.putNode(clean, n); err != nil {
		return "", err
	}
	if err := mapError(e.txn.Set(keyChild(parentOf(clean), baseName(clean)), []byte(n.Kind.String()))); err != nil {
		return "", err
	}
	e.changed[clean] = struct{}{}
	e.changed[parentOf(clean)] = struct{}{}
	return clean, nil
}

// open loads an existing node of kind under the current directory
func (e *Editor) open(op, p string, kind domain.NodeKind) (string, *node, error) {
	clean, err := e.checkScope(op, p)
	if err != nil {
		return "", nil, err
	}
	n, err := getNode(e.txn, clean)
	if err != nil {
		return "", nil, mapError(err)
	}
	if n == nil {
		return "", nil, &store.PathError{Op: op, Path: clean, Err: store.ErrNotFound}
	}
	if n.Kind != kind {
		mismatch := domain.ErrNotFile
		if kind == domain.KindDir {
			mismatch = domain.ErrNotDirectory
		}
		return "", nil, &store.PathError{Op: op, Path: clean, Err: mismatch}
	}
	return clean, n, nil
}

// OpenRoot implements store.Editor
func (e *Editor) OpenRoot() error {
	if e.done {
		return e.stateError("open-root", "", "edit already closed")
	}
	if e.rootOpened {
		return e.stateError("open-root", "", "root already opened")
	}
	e.rootOpened = true
	e.dirs = append(e.dirs, "")
	e.log.Debug("edit started", "message", e.message)
	return nil
}

// OpenDir implements store.Editor
func (e *Editor) OpenDir(p string) error {
	clean, _, err := e.open("open-dir", p, domain.KindDir)
	if err != nil {
		return err
	}
	e.dirs = append(e.dirs, clean)
	return nil
}

// AddDir implements store.Editor
func (e *Editor) AddDir(p string) error {
	clean, err := e.add("add-dir", p, &node{Kind: domain.KindDir})
	if err != nil {
		return err
	}
	e.dirs = append(e.dirs, clean)
	return nil
}

// OpenFile implements store.Editor
func (e *Editor) OpenFile(p string) error {
	clean, n, err := e.open("open-file", p, domain.KindFile)
	if err != nil {
		return err
	}
	e.file = &openFile{path: clean, node: n}
	return nil
}

// AddFile implements store.Editor
func (e *Editor) AddFile(p string) error {
	n := &node{Kind: domain.KindFile}
	clean, err := e.add("add-file", p, n)
	if err != nil {
		return err
	}
	e.file = &openFile{path: clean, node: n, dirty: true}
	return nil
}

func (e *Editor) currentFile(op, p string) (*openFile, error) {
	if e.done {
		return nil, e.stateError(op, p, "edit already closed")
	}
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if e.file == nil || e.file.path != clean {
		return nil, e.stateError(op, p, "file is not open")
	}
	return e.file, nil
}

// ChangeFileProperty implements store.Editor
func (e *Editor) ChangeFileProperty(p, name, value string) error {
	f, err := e.currentFile("change-prop", p)
	if err != nil {
		return err
	}
	if value == "" {
		delete(f.node.Properties, name)
	} else {
		if f.node.Properties == nil {
			f.node.Properties = make(map[string]string)
		}
		f.node.Properties[name] = value
	}
	f.dirty = true
	return nil
}

// ApplyTextDelta implements store.Editor
func (e *Editor) ApplyTextDelta(p string) error {
	f, err := e.currentFile("apply-delta", p)
	if err != nil {
		return err
	}
	h, err := checksum.NewHash(checksum.MD5)
	if err != nil {
		return err
	}
	f.content.Reset()
	f.hash = h
	f.delta = true
	f.dirty = true
	return nil
}

// TextDeltaChunk implements store.Editor
func (e *Editor) TextDeltaChunk(p string, window []byte) error {
	f, err := e.currentFile("delta-chunk", p)
	if err != nil {
		return err
	}
	if !f.delta {
		return e.stateError("delta-chunk", p, "no delta in progress")
	}
	f.content.Write(window)
	f.hash.Write(window)
	return nil
}

// CloseFile implements store.Editor
func (e *Editor) CloseFile(p, sum string) error {
	f, err := e.currentFile("close-file", p)
	if err != nil {
		return err
	}

	if f.delta {
		actual := hex.EncodeToString(f.hash.Sum(nil))
		if sum != "" && sum != actual {
			return &store.PathError{
				Op:   "close-file",
				Path: f.path,
				Err:  fmt.Errorf("%w: expected %s, got %s", store.ErrChecksumMismatch, sum, actual),
			}
		}
		f.node.Size = int64(f.content.Len())
		f.node.Checksum = actual
		if err := mapError(e.txn.Set(keyContent(f.path), bytes.Clone(f.content.Bytes()))); err != nil {
			return err
		}
	}

	if f.dirty {
		if err := e.putNode(f.path, f.node); err != nil {
			return err
		}
		e.changed[f.path] = struct{}{}
		e.changed[parentOf(f.path)] = struct{}{}
	}

	e.log.Debug("file closed", "path", f.path, "size", f.node.Size)
	e.file = nil
	return nil
}

// CloseDir implements store.Editor
func (e *Editor) CloseDir() error {
	if e.done {
		return e.stateError("close-dir", "", "edit already closed")
	}
	if len(e.dirs) == 0 {
		return e.stateError("close-dir", "", "no directory open")
	}
	if e.file != nil {
		return e.stateError("close-dir", e.file.path, "a file is still open")
	}
	e.dirs = e.dirs[:len(e.dirs)-1]
	return nil
}

// CloseEdit implements store.Editor.
// Every node touched by the edit is stamped with the new revision; the
// revision record and head are written in the same transaction.
func (e *Editor) CloseEdit(ctx context.Context) (*store.CommitInfo, error) {
	if e.done {
		return nil, e.stateError("close-edit", "", "edit already closed")
	}
	if !e.rootOpened || len(e.dirs) > 0 || e.file != nil {
		return nil, e.stateError("close-edit", "", "scopes still open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer e.finish()

	head, err := readHead(e.txn)
	if err != nil {
		return nil, mapError(err)
	}
	if len(e.changed) == 0 {
		return &store.CommitInfo{Revision: head}, nil
	}

	info := &store.CommitInfo{
		Revision: head + 1,
		Date:     time.Now().UTC(),
		Author:   e.author,
		Message:  e.message,
	}

	// Ancestors of every change are changed as well
	for p := range e.changed {
		for p != "" {
			p = parentOf(p)
			e.changed[p] = struct{}{}
		}
	}

	for p := range e.changed {
		n, err := getNode(e.txn, p)
		if err != nil {
			return nil, mapError(err)
		}
		if n == nil {
			return nil, fmt.Errorf("changed node %q vanished", p)
		}
		n.Revision = info.Revision
		n.Date = info.Date
		n.Author = info.Author
		if err := e.putNode(p, n); err != nil {
			return nil, err
		}
	}

	rec, err := encodeRevision(info)
	if err != nil {
		return nil, err
	}
	if err := mapError(e.txn.Set(keyRevision(info.Revision), rec)); err != nil {
		return nil, err
	}
	if err := mapError(e.txn.Set([]byte(keyHead), []byte(strconv.FormatInt(info.Revision, 10)))); err != nil {
		return nil, err
	}

	if err := e.txn.Commit(); err != nil {
		return nil, mapError(err)
	}

	e.log.Info("revision committed", "revision", info.Revision, "author", info.Author, "nodes", len(e.changed))
	return info, nil
}

// AbortEdit implements store.Editor
func (e *Editor) AbortEdit() error {
	if e.done {
		return e.stateError("abort-edit", "", "edit already closed")
	}
	e.finish()
	e.log.Debug("edit aborted", "message", e.message)
	return nil
}

func (e *Editor) finish() {
	e.done = true
	e.file = nil
	e.dirs = nil
	e.txn.Discard()
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
