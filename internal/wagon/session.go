package wagon

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/state"
	"github.com/Ning0612/Treewagon/internal/store"
)

// writeSession buffers every mutation of a connection into one tree edit.
//
// It is created with the root of the edit open and ends with exactly one
// call to close, which commits when something was attempted and nothing
// failed, and aborts otherwise.
type writeSession struct {
	id      string
	editor  store.Editor
	message string
	started time.Time

	reader *reader
	props  *AutoProps
	log    logger.Logger

	// attempted is set once a structural change reached the editor
	attempted bool

	// successful is cleared by the first failed mutation and never set again
	successful bool

	// added holds paths created by this session; the read view cannot see them
	added map[string]struct{}

	// touched holds existing files whose content this session replaced
	touched map[string]struct{}

	// depth counts open directory scopes, the root included
	depth int

	files int
	bytes int64
}

func openWriteSession(ctx context.Context, repo store.Repository, message string, r *reader, props *AutoProps, log logger.Logger) (*writeSession, error) {
	editor, err := repo.CommitEditor(ctx, message)
	if err != nil {
		return nil, err
	}
	if err := editor.OpenRoot(); err != nil {
		_ = editor.AbortEdit()
		return nil, err
	}

	id := uuid.NewString()
	s := &writeSession{
		id:         id,
		editor:     editor,
		message:    message,
		started:    time.Now(),
		reader:     r,
		props:      props,
		log:        log.With("session", id),
		attempted:  false,
		successful: true,
		added:      make(map[string]struct{}),
		touched:    make(map[string]struct{}),
		depth:      1,
	}
	s.log.Info("write session opened", "message", message)
	return s, nil
}

// isAdded reports whether p was created by this session
func (s *writeSession) isAdded(p string) bool {
	_, ok := s.added[p]
	return ok
}

// isStale reports whether the read view of p lags behind this session
func (s *writeSession) isStale(p string) bool {
	if s.isAdded(p) {
		return true
	}
	_, ok := s.touched[p]
	return ok
}

// ensureDirectory opens the directory p, creating it when absent
func (s *writeSession) ensureDirectory(ctx context.Context, p string) error {
	kind, err := s.reader.kindOf(ctx, p)
	if err != nil {
		return err
	}

	switch {
	case kind == domain.KindDir || s.isAdded(p):
		if err := s.editor.OpenDir(p); err != nil {
			return err
		}
	case kind == domain.KindNone:
		s.attempted = true
		s.added[p] = struct{}{}
		if err := s.editor.AddDir(p); err != nil {
			return err
		}
		s.log.Debug("directory added", "path", p)
	default:
		return fmt.Errorf("%s is not a directory: %w", p, domain.ErrNotDirectory)
	}
	s.depth++
	return nil
}

// ensureDirectoryPath opens every prefix of components in root-to-leaf
// order. It returns how many scopes were opened; the caller closes them.
func (s *writeSession) ensureDirectoryPath(ctx context.Context, components []string) (int, error) {
	var dir string
	for i, c := range components {
		if dir == "" {
			dir = c
		} else {
			dir = dir + "/" + c
		}
		if err := s.ensureDirectory(ctx, dir); err != nil {
			return i, err
		}
	}
	return len(components), nil
}

// closeDirectories closes the n innermost directory scopes
func (s *writeSession) closeDirectories(n int) error {
	for i := 0; i < n; i++ {
		if err := s.editor.CloseDir(); err != nil {
			return err
		}
		s.depth--
	}
	return nil
}

// kindForWrite checks that p can be written as a file and reports whether it
// already exists in the store or in this session
func (s *writeSession) kindForWrite(ctx context.Context, p string) (bool, error) {
	kind, err := s.reader.kindOf(ctx, p)
	if err != nil {
		return false, err
	}
	switch kind {
	case domain.KindFile:
		return true, nil
	case domain.KindNone:
		return s.isAdded(p), nil
	default:
		return false, fmt.Errorf("%s exists and is not a file: %w", p, domain.ErrNotFile)
	}
}

// writeFile replaces (or creates) the file p with the content of r.
// Any failure dooms the session.
func (s *writeSession) writeFile(ctx context.Context, p string, exists bool, r io.Reader) (int64, error) {
	if len(p) > 0 && p[0] == '/' {
		panic("wagon: absolute path reached the write session: " + p)
	}

	n, err := s.writeFileInternal(ctx, p, exists, r)
	if err != nil {
		s.successful = false
		return n, err
	}
	s.files++
	s.bytes += n
	return n, nil
}

func (s *writeSession) writeFileInternal(ctx context.Context, p string, exists bool, r io.Reader) (int64, error) {
	s.attempted = true
	if exists {
		if err := s.editor.OpenFile(p); err != nil {
			return 0, err
		}
		if !s.isAdded(p) {
			s.touched[p] = struct{}{}
		}
	} else {
		s.added[p] = struct{}{}
		if err := s.editor.AddFile(p); err != nil {
			return 0, err
		}
		for name, value := range s.props.Derive(p) {
			if err := s.editor.ChangeFileProperty(p, name, value); err != nil {
				return 0, err
			}
		}
	}

	sum, n, err := store.SendDelta(ctx, s.editor, p, r)
	if err != nil {
		return n, err
	}
	if err := s.editor.CloseFile(p, sum); err != nil {
		return n, err
	}
	s.log.Debug("file written", "path", p, "size", n, "added", !exists)
	return n, nil
}

// close ends the session. The returned record describes the outcome even
// when err is not nil.
func (s *writeSession) close(ctx context.Context) (state.SessionRecord, *store.CommitInfo, error) {
	record := state.SessionRecord{
		ID:        s.id,
		Message:   s.message,
		StartTime: s.started,
		Files:     s.files,
		Bytes:     s.bytes,
	}

	var info *store.CommitInfo
	var err error
	if s.attempted && s.successful {
		info, err = s.commit(ctx)
		if err != nil {
			record.Status = state.StatusFailed
			record.Error = err.Error()
			s.log.Error("write session commit failed", "error", err)
		} else {
			record.Status = state.StatusCommitted
			record.Revision = info.Revision
			s.log.Info("write session committed", "revision", info.Revision, "files", s.files, "bytes", s.bytes)
		}
	} else {
		err = s.editor.AbortEdit()
		record.Status = state.StatusAborted
		if err != nil {
			record.Error = err.Error()
		}
		s.log.Info("write session aborted", "attempted", s.attempted, "successful", s.successful)
	}

	record.EndTime = time.Now()
	s.attempted = false
	s.successful = false
	s.added = nil
	s.touched = nil
	return record, info, err
}

func (s *writeSession) commit(ctx context.Context) (*store.CommitInfo, error) {
	if err := s.closeDirectories(s.depth); err != nil {
		_ = s.editor.AbortEdit()
		return nil, err
	}
	info, err := s.editor.CloseEdit(ctx)
	if err != nil {
		// The edit may still hold resources when it fails before finishing
		_ = s.editor.AbortEdit()
		return nil, err
	}
	return info, nil
}
