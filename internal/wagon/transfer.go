package wagon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/localfs"
	"github.com/Ning0612/Treewagon/internal/progress"
	"github.com/Ning0612/Treewagon/internal/store"
)

// Derived artifacts of signing plugins that are never uploaded
var skippedSuffixes = []string{".asc.md5", ".asc.sha1"}

// Exists reports whether name exists in the store.
// Uncommitted writes of this connection are not visible.
func (w *Wagon) Exists(ctx context.Context, name string) (bool, error) {
	conn, err := w.connection()
	if err != nil {
		return false, err
	}
	kind, err := conn.reader.kindOf(ctx, Resolve(conn.relRoot, name))
	if err != nil {
		return false, transferError(err)
	}
	return kind != domain.KindNone, nil
}

// Get downloads the file name into dest, creating dest's parent directories
func (w *Wagon) Get(ctx context.Context, name, dest string) error {
	conn, err := w.connection()
	if err != nil {
		return err
	}
	p := Resolve(conn.relRoot, name)
	if err := w.flushStale(ctx, conn, p); err != nil {
		return err
	}

	kind, err := conn.reader.kindOf(ctx, p)
	if err != nil {
		return transferError(err)
	}
	switch kind {
	case domain.KindFile:
		return transferError(w.get(ctx, conn, p, dest, domain.NewResource(name)))
	case domain.KindNone:
		return notFound(name, "does not exist")
	default:
		return notFound(name, "is not a file")
	}
}

// GetIfNewer downloads name into dest only when the stored file changed
// after since. It reports whether the file was fetched.
func (w *Wagon) GetIfNewer(ctx context.Context, name, dest string, since time.Time) (bool, error) {
	conn, err := w.connection()
	if err != nil {
		return false, err
	}
	p := Resolve(conn.relRoot, name)
	if err := w.flushStale(ctx, conn, p); err != nil {
		return false, err
	}

	entry, err := conn.reader.infoOf(ctx, p)
	if err != nil {
		return false, transferError(err)
	}
	switch {
	case entry == nil:
		return false, notFound(name, "does not exist")
	case entry.Kind != domain.KindFile:
		return false, notFound(name, "is not a file")
	case !entry.ModTime.After(since):
		w.fire(progress.EventInitiated, progress.RequestGet, domain.NewResource(name), dest, 0, nil)
		w.log.Debug("remote file not newer", "path", p, "modified", entry.ModTime, "since", since)
		return false, nil
	}

	if err := w.get(ctx, conn, p, dest, domain.NewResource(name)); err != nil {
		return false, transferError(err)
	}
	return true, nil
}

// flushStale forces the write session out when p was written by it
func (w *Wagon) flushStale(ctx context.Context, conn *connection, p string) error {
	if conn.session == nil || !conn.session.isStale(p) {
		return nil
	}
	w.log.Debug("flushing write session before read", "path", p)
	return transferError(w.flush(ctx, conn))
}

func (w *Wagon) get(ctx context.Context, conn *connection, p, dest string, res *domain.Resource) (err error) {
	if conn.session != nil && conn.session.isAdded(p) {
		panic("wagon: reading " + p + " while its creation is still buffered")
	}
	start := time.Now()

	var n int64
	w.fire(progress.EventInitiated, progress.RequestGet, res, dest, 0, nil)
	defer func() {
		w.opts.Metrics.ObserveTransfer(progress.RequestGet.String(), n, err)
		if err != nil {
			w.fire(progress.EventError, progress.RequestGet, res, dest, n, err)
		}
	}()

	if err := localfs.EnsureParent(dest); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	entry, err := conn.reader.infoOf(ctx, p)
	if err != nil {
		return err
	}
	if entry == nil {
		return notFound(res.Name, "does not exist")
	}
	res.ContentLength = entry.Size
	res.LastModified = entry.ModTime
	w.fire(progress.EventStarted, progress.RequestGet, res, dest, 0, nil)

	// dest keeps its old content until the download is complete
	f, err := localfs.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	pw := progress.NewProgressWriter(f, func(transferred int64) {
		w.fire(progress.EventProgress, progress.RequestGet, res, dest, transferred, nil)
	})
	n, err = conn.reader.streamContent(ctx, p, pw)
	if err != nil {
		_ = f.Abort()
		return err
	}
	if err := f.Commit(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	w.fire(progress.EventCompleted, progress.RequestGet, res, dest, n, nil)
	w.log.Debug("file downloaded", "path", p, "size", n, "took", since(start))
	return nil
}

// Put uploads the local file src as name. The upload joins the pending write
// session; it becomes visible when the session is committed.
func (w *Wagon) Put(ctx context.Context, src, name string) (err error) {
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(name, suffix) {
			w.log.Debug("skipping derived artifact", "name", name)
			return nil
		}
	}

	conn, err := w.connection()
	if err != nil {
		return err
	}
	p := Resolve(conn.relRoot, name)

	s, err := w.session(ctx, conn, p)
	if err != nil {
		return transferError(err)
	}
	defer func() {
		if err != nil {
			s.successful = false
			err = transferError(err)
		}
	}()
	if !s.successful {
		return fmt.Errorf("%w: write session %s already failed and will be aborted", domain.ErrTransferFailed, s.id)
	}

	components := splitPath(p)
	if len(components) == 0 {
		return fmt.Errorf("%w: %q does not name a file", domain.ErrTransferFailed, name)
	}
	opened, err := s.ensureDirectoryPath(ctx, components[:len(components)-1])
	if err != nil {
		return err
	}
	if err := w.putFile(ctx, s, src, p, domain.NewResource(name)); err != nil {
		return err
	}
	return s.closeDirectories(opened)
}

// PutDirectory uploads the local directory src as name, recursively.
// Local entries are processed in name order; the first failure stops the
// upload and dooms the pending write session.
func (w *Wagon) PutDirectory(ctx context.Context, src, name string) (err error) {
	conn, err := w.connection()
	if err != nil {
		return err
	}
	p := Resolve(conn.relRoot, name)

	s, err := w.session(ctx, conn, p)
	if err != nil {
		return transferError(err)
	}
	defer func() {
		if err != nil {
			s.successful = false
			err = transferError(err)
		}
	}()
	if !s.successful {
		return fmt.Errorf("%w: write session %s already failed and will be aborted", domain.ErrTransferFailed, s.id)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrTransferFailed, src)
	}
	ancestors := []os.FileInfo{info}

	components := splitPath(p)
	if len(components) == 0 {
		// The transfer root is the store root, which the edit already opened
		return w.putDirectoryContents(ctx, s, conn, src, name, ancestors)
	}

	opened, err := s.ensureDirectoryPath(ctx, components[:len(components)-1])
	if err != nil {
		return err
	}
	if err := w.putDirectory(ctx, s, conn, src, p, name, ancestors); err != nil {
		return err
	}
	return s.closeDirectories(opened)
}

// putDirectory uploads src as p. ancestors are the local directories being
// uploaded, src included.
func (w *Wagon) putDirectory(ctx context.Context, s *writeSession, conn *connection, src, p, name string, ancestors []os.FileInfo) error {
	if err := s.ensureDirectory(ctx, p); err != nil {
		return err
	}
	if err := w.putDirectoryContents(ctx, s, conn, src, name, ancestors); err != nil {
		return err
	}
	return s.closeDirectories(1)
}

func (w *Wagon) putDirectoryContents(ctx context.Context, s *writeSession, conn *connection, src, name string, ancestors []os.FileInfo) error {
	// Symlinks are followed, so linked directories are uploaded as directories
	entries, err := localfs.ReadDir(src)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		childName := entry.Name
		if name != "" && name != "." {
			childName = strings.TrimSuffix(name, "/") + "/" + entry.Name
		}
		childPath := Resolve(conn.relRoot, childName)

		if entry.IsDir() {
			if localfs.SameAsAny(entry.Info, ancestors) {
				return fmt.Errorf("%w: %s links back to a directory being uploaded", domain.ErrTransferFailed, entry.Path)
			}
			inner := append(ancestors[:len(ancestors):len(ancestors)], entry.Info)
			err = w.putDirectory(ctx, s, conn, entry.Path, childPath, childName, inner)
		} else {
			err = w.putFile(ctx, s, entry.Path, childPath, domain.NewResource(childName))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// putFile writes one local file into the open scope of its parent
func (w *Wagon) putFile(ctx context.Context, s *writeSession, src, p string, res *domain.Resource) (err error) {
	exists, err := s.kindForWrite(ctx, p)
	if err != nil {
		s.successful = false
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	start := time.Now()
	w.fire(progress.EventInitiated, progress.RequestPut, res, src, 0, nil)

	var n int64
	defer func() {
		w.opts.Metrics.ObserveTransfer(progress.RequestPut.String(), n, err)
		if err != nil {
			w.fire(progress.EventError, progress.RequestPut, res, src, n, err)
		}
	}()

	f, err := os.Open(src)
	if err != nil {
		s.successful = false
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.successful = false
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	res.ContentLength = info.Size()
	res.LastModified = info.ModTime()
	w.fire(progress.EventStarted, progress.RequestPut, res, src, 0, nil)

	pr := progress.NewProgressReader(f, func(transferred int64) {
		w.fire(progress.EventProgress, progress.RequestPut, res, src, transferred, nil)
	})
	n, err = s.writeFile(ctx, p, exists, pr)
	if err != nil {
		return err
	}

	w.fire(progress.EventCompleted, progress.RequestPut, res, src, n, nil)
	w.log.Debug("file uploaded", "path", p, "size", n, "took", since(start))
	return nil
}

// List returns the entries of the directory name; directories carry a
// trailing "/".
func (w *Wagon) List(ctx context.Context, name string) ([]string, error) {
	entries, err := w.ListEntries(ctx, name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name+"/")
		} else {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// ListEntries is List with the full node details of each entry.
func (w *Wagon) ListEntries(ctx context.Context, name string) ([]store.Entry, error) {
	conn, err := w.connection()
	if err != nil {
		return nil, err
	}
	p := Resolve(conn.relRoot, name)

	kind, err := conn.reader.kindOf(ctx, p)
	if err != nil {
		return nil, transferError(err)
	}
	switch kind {
	case domain.KindDir:
	case domain.KindNone:
		return nil, notFound(name, "does not exist")
	default:
		return nil, notFound(name, "is not a directory")
	}

	entries, err := conn.reader.list(ctx, p)
	if err != nil {
		return nil, transferError(err)
	}
	return entries, nil
}
