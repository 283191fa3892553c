package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

func newMemRepo(t *testing.T) *Repository {
	t.Helper()

	name := uuid.NewString()
	root, err := CreateMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = DeleteMemory(name) })

	repo, err := Open(context.Background(), root.String(), store.Options{Author: "tester"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// commitFile adds dir/name with content in one edit
func commitFile(t *testing.T, repo *Repository, dir, name, content string) *store.CommitInfo {
	t.Helper()
	ctx := context.Background()

	ed, err := repo.CommitEditor(ctx, "add "+name)
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())

	filePath := name
	if dir != "" {
		require.NoError(t, ed.AddDir(dir))
		filePath = dir + "/" + name
	}
	require.NoError(t, ed.AddFile(filePath))
	sum, _, err := store.SendDelta(ctx, ed, filePath, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, ed.CloseFile(filePath, sum))
	if dir != "" {
		require.NoError(t, ed.CloseDir())
	}
	require.NoError(t, ed.CloseDir())

	info, err := ed.CloseEdit(ctx)
	require.NoError(t, err)
	return info
}

func TestCreateAndDiscoverRoot(t *testing.T) {
	dir := t.TempDir()
	root, err := Create(dir)
	require.NoError(t, err)
	assert.Equal(t, "file", root.Scheme)

	_, err = os.Stat(filepath.Join(dir, FormatFile))
	require.NoError(t, err)

	// Creating twice fails
	_, err = Create(dir)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// A URL below the root resolves to the root
	sub := root.String() + "/releases/1.0"
	repo, err := Open(context.Background(), sub, store.Options{})
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, root.String(), repo.Root().String())
	assert.NotEmpty(t, repo.UUID())

	kind, err := repo.CheckPath(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDir, kind)
}

func TestOpenNotRepository(t *testing.T) {
	_, err := Open(context.Background(), "file://"+filepath.ToSlash(t.TempDir()), store.Options{})
	assert.ErrorIs(t, err, store.ErrNotRepository)

	_, err = Open(context.Background(), "mem://missing-"+uuid.NewString(), store.Options{})
	assert.ErrorIs(t, err, store.ErrNotRepository)
}

func TestSharedHandle(t *testing.T) {
	dir := t.TempDir()
	root, err := Create(dir)
	require.NoError(t, err)

	first, err := Open(context.Background(), root.String(), store.Options{})
	require.NoError(t, err)
	second, err := Open(context.Background(), root.String(), store.Options{})
	require.NoError(t, err)

	commitFile(t, first, "", "a.txt", "shared")
	require.NoError(t, first.Close())

	// The second session still works after the first one closed
	var buf bytes.Buffer
	_, err = second.GetFile(context.Background(), "a.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "shared", buf.String())
	require.NoError(t, second.Close())
}

func TestCommitIsAtomic(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()

	ed, err := repo.CommitEditor(ctx, "atomic")
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())
	require.NoError(t, ed.AddDir("dir"))
	require.NoError(t, ed.AddFile("dir/a.txt"))
	sum, n, err := store.SendDelta(ctx, ed, "dir/a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, ed.CloseFile("dir/a.txt", sum))
	require.NoError(t, ed.CloseDir())
	require.NoError(t, ed.CloseDir())

	// Nothing is visible before the edit closes
	kind, err := repo.CheckPath(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.KindNone, kind)

	info, err := ed.CloseEdit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Revision)
	assert.Equal(t, "tester", info.Author)

	kind, err = repo.CheckPath(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDir, kind)

	entry, err := repo.Info(ctx, "dir/a.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(5), entry.Size)
	assert.Equal(t, int64(1), entry.Revision)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", entry.Checksum)
	assert.Equal(t, info.Date, entry.ModTime)

	var buf bytes.Buffer
	_, err = repo.GetFile(ctx, "dir/a.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())

	// Edit is finished
	assert.ErrorIs(t, ed.OpenRoot(), store.ErrEditorState)
}

func TestAbortDiscardsEverything(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()

	ed, err := repo.CommitEditor(ctx, "abort")
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())
	require.NoError(t, ed.AddDir("dir"))
	require.NoError(t, ed.AddFile("dir/a.txt"))
	require.NoError(t, ed.AbortEdit())

	kind, err := repo.CheckPath(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.KindNone, kind)

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)

	assert.ErrorIs(t, ed.AbortEdit(), store.ErrEditorState)
}

func TestEditorScopeRules(t *testing.T) {
	repo := newMemRepo(t)
	commitFile(t, repo, "dir", "a.txt", "x")
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(ed store.Editor) error
		wantErr error
	}{
		{
			name:    "add before open root",
			run:     func(ed store.Editor) error { return ed.AddDir("x") },
			wantErr: store.ErrEditorState,
		},
		{
			name: "add outside current directory",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				return ed.AddFile("dir/b.txt")
			},
			wantErr: store.ErrEditorState,
		},
		{
			name: "add existing directory",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				return ed.AddDir("dir")
			},
			wantErr: store.ErrAlreadyExists,
		},
		{
			name: "open missing file",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				_ = ed.OpenDir("dir")
				return ed.OpenFile("dir/missing.txt")
			},
			wantErr: store.ErrNotFound,
		},
		{
			name: "open file as directory",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				_ = ed.OpenDir("dir")
				return ed.OpenDir("dir/a.txt")
			},
			wantErr: domain.ErrNotDirectory,
		},
		{
			name: "close edit with open scopes",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				_, err := ed.CloseEdit(ctx)
				return err
			},
			wantErr: store.ErrEditorState,
		},
		{
			name: "chunk without delta",
			run: func(ed store.Editor) error {
				_ = ed.OpenRoot()
				_ = ed.OpenDir("dir")
				_ = ed.OpenFile("dir/a.txt")
				return ed.TextDeltaChunk("dir/a.txt", []byte("x"))
			},
			wantErr: store.ErrEditorState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed, err := repo.CommitEditor(ctx, tt.name)
			require.NoError(t, err)
			defer func() { _ = ed.AbortEdit() }()

			err = tt.run(ed)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestChecksumMismatch(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()

	ed, err := repo.CommitEditor(ctx, "bad checksum")
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())
	require.NoError(t, ed.AddFile("a.txt"))
	_, _, err = store.SendDelta(ctx, ed, "a.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	err = ed.CloseFile("a.txt", "00000000000000000000000000000000")
	assert.ErrorIs(t, err, store.ErrChecksumMismatch)
	require.NoError(t, ed.AbortEdit())
}

func TestOpenFileReplacesContent(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()
	commitFile(t, repo, "", "a.txt", "old")

	ed, err := repo.CommitEditor(ctx, "modify")
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())
	require.NoError(t, ed.OpenFile("a.txt"))
	require.NoError(t, ed.ChangeFileProperty("a.txt", store.PropMimeType, "text/plain"))
	sum, _, err := store.SendDelta(ctx, ed, "a.txt", strings.NewReader("brand new"))
	require.NoError(t, err)
	require.NoError(t, ed.CloseFile("a.txt", sum))
	require.NoError(t, ed.CloseDir())
	info, err := ed.CloseEdit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Revision)

	entry, err := repo.Info(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(9), entry.Size)
	assert.Equal(t, "text/plain", entry.Properties[store.PropMimeType])

	var buf bytes.Buffer
	_, err = repo.GetFile(ctx, "a.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "brand new", buf.String())
}

func TestGetDir(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()
	commitFile(t, repo, "dir", "b.txt", "b")

	ed, err := repo.CommitEditor(ctx, "more")
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())
	require.NoError(t, ed.OpenDir("dir"))
	require.NoError(t, ed.AddDir("dir/sub"))
	require.NoError(t, ed.CloseDir())
	require.NoError(t, ed.AddFile("dir/a.txt"))
	require.NoError(t, ed.CloseFile("dir/a.txt", ""))
	require.NoError(t, ed.CloseDir())
	require.NoError(t, ed.CloseDir())
	_, err = ed.CloseEdit(ctx)
	require.NoError(t, err)

	entries, err := repo.GetDir(ctx, "dir")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, "sub", entries[2].Name)
	assert.True(t, entries[2].IsDir())
	assert.Equal(t, "dir/sub", entries[2].Path)

	_, err = repo.GetDir(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.GetDir(ctx, "dir/a.txt")
	assert.ErrorIs(t, err, domain.ErrNotDirectory)

	// Empty file added without delta
	var buf bytes.Buffer
	n, err := repo.GetFile(ctx, "dir/a.txt", &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLog(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()
	commitFile(t, repo, "", "a.txt", "a")
	commitFile(t, repo, "", "b.txt", "b")

	infos, err := repo.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, int64(2), infos[0].Revision)
	assert.Equal(t, "add b.txt", infos[0].Message)
	assert.Equal(t, int64(0), infos[2].Revision)

	infos, err = repo.Log(ctx, 1)
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func TestConcurrentEditConflict(t *testing.T) {
	repo := newMemRepo(t)
	ctx := context.Background()

	slow, err := repo.CommitEditor(ctx, "slow")
	require.NoError(t, err)
	require.NoError(t, slow.OpenRoot())
	require.NoError(t, slow.AddDir("slow"))
	require.NoError(t, slow.CloseDir())
	require.NoError(t, slow.CloseDir())

	commitFile(t, repo, "", "fast.txt", "fast")

	_, err = slow.CloseEdit(ctx)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestSetupRegistersSchemes(t *testing.T) {
	Setup()
	Setup()

	name := uuid.NewString()
	root, err := CreateMemory(name)
	require.NoError(t, err)
	defer DeleteMemory(name)

	repo, err := store.Open(context.Background(), root.String()+"/some/path", store.Options{})
	require.NoError(t, err)
	defer repo.Close()
	assert.Equal(t, root.String(), repo.Root().String())
}
