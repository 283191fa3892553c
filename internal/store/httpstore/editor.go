package httpstore

import (
	"context"
	"fmt"

	"github.com/Ning0612/Treewagon/internal/store"
)

// recorder buffers editor calls and replays them on the server when the edit
// is closed. Scope rules are enforced by the server; the recorder only tracks
// whether the edit is still open.
type recorder struct {
	client  *Client
	message string
	ops     []Op
	done    bool
}

var _ store.Editor = (*recorder)(nil)

func (r *recorder) record(op Op) error {
	if r.done {
		return &store.PathError{Op: op.Op, Path: op.Path, Err: store.ErrEditorState}
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *recorder) OpenRoot() error         { return r.record(Op{Op: OpOpenRoot}) }
func (r *recorder) OpenDir(p string) error  { return r.record(Op{Op: OpOpenDir, Path: p}) }
func (r *recorder) AddDir(p string) error   { return r.record(Op{Op: OpAddDir, Path: p}) }
func (r *recorder) OpenFile(p string) error { return r.record(Op{Op: OpOpenFile, Path: p}) }
func (r *recorder) AddFile(p string) error  { return r.record(Op{Op: OpAddFile, Path: p}) }
func (r *recorder) CloseDir() error         { return r.record(Op{Op: OpCloseDir}) }
func (r *recorder) ApplyTextDelta(p string) error {
	return r.record(Op{Op: OpDelta, Path: p})
}

func (r *recorder) ChangeFileProperty(p, name, value string) error {
	return r.record(Op{Op: OpChangeProp, Path: p, Name: name, Value: value})
}

// TextDeltaChunk merges consecutive windows of the same file into one op
func (r *recorder) TextDeltaChunk(p string, window []byte) error {
	if r.done {
		return &store.PathError{Op: OpChunk, Path: p, Err: store.ErrEditorState}
	}
	if n := len(r.ops); n > 0 && r.ops[n-1].Op == OpChunk && r.ops[n-1].Path == p {
		r.ops[n-1].Data = append(r.ops[n-1].Data, window...)
		return nil
	}
	return r.record(Op{Op: OpChunk, Path: p, Data: append([]byte(nil), window...)})
}

func (r *recorder) CloseFile(p, checksum string) error {
	return r.record(Op{Op: OpCloseFile, Path: p, Checksum: checksum})
}

// CloseEdit sends the recorded edit as one commit request
func (r *recorder) CloseEdit(ctx context.Context) (*store.CommitInfo, error) {
	if r.done {
		return nil, &store.PathError{Op: "close edit", Err: store.ErrEditorState}
	}
	r.done = true
	ops := r.ops
	r.ops = nil

	info, err := r.client.commit(ctx, CommitRequest{Message: r.message, Ops: ops})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return info, nil
}

// AbortEdit drops the recorded edit; nothing was sent yet
func (r *recorder) AbortEdit() error {
	if r.done {
		return &store.PathError{Op: "abort edit", Err: store.ErrEditorState}
	}
	r.done = true
	r.ops = nil
	return nil
}
