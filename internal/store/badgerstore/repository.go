package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/store"
)

// Repository is a session on a Badger-backed repository.
// It implements store.Repository.
type Repository struct {
	h      *handle
	author string
	log    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func newRepository(h *handle, opts store.Options) *Repository {
	author := opts.Author
	if author == "" {
		author = opts.Username
	}
	return &Repository{
		h:      h,
		author: author,
		log:    logger.With("store", h.root.String()),
	}
}

// Root implements store.Repository
func (r *Repository) Root() *url.URL {
	u := *r.h.root
	return &u
}

// UUID returns the repository UUID
func (r *Repository) UUID() string {
	return r.h.uuid
}

// Close implements store.Repository
func (r *Repository) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = release(r.h)
	})
	return r.closeErr
}

// getNode loads the node at p inside txn; nil if absent
func getNode(txn *badger.Txn, p string) (*node, error) {
	item, err := txn.Get(keyNode(p))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var n *node
	err = item.Value(func(val []byte) error {
		var decErr error
		n, decErr = decodeNode(val)
		return decErr
	})
	return n, err
}

func (r *Repository) lookup(ctx context.Context, p string) (string, *node, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	clean, err := cleanPath(p)
	if err != nil {
		return "", nil, err
	}

	var n *node
	err = r.h.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, clean)
		return err
	})
	if err != nil {
		return "", nil, mapError(err)
	}
	return clean, n, nil
}

// CheckPath implements store.Repository
func (r *Repository) CheckPath(ctx context.Context, p string) (domain.NodeKind, error) {
	_, n, err := r.lookup(ctx, p)
	if err != nil {
		return domain.KindNone, err
	}
	if n == nil {
		return domain.KindNone, nil
	}
	return n.Kind, nil
}

// Info implements store.Repository
func (r *Repository) Info(ctx context.Context, p string) (*store.Entry, error) {
	clean, n, err := r.lookup(ctx, p)
	if err != nil || n == nil {
		return nil, err
	}
	e := n.entry(clean)
	return &e, nil
}

// GetFile implements store.Repository
func (r *Repository) GetFile(ctx context.Context, p string, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean, err := cleanPath(p)
	if err != nil {
		return 0, err
	}

	var written int64
	err = r.h.db.View(func(txn *badger.Txn) error {
		n, err := getNode(txn, clean)
		if err != nil {
			return err
		}
		if n == nil {
			return &store.PathError{Op: "get", Path: clean, Err: store.ErrNotFound}
		}
		if n.Kind != domain.KindFile {
			return &store.PathError{Op: "get", Path: clean, Err: domain.ErrNotFile}
		}

		item, err := txn.Get(keyContent(clean))
		if err == badger.ErrKeyNotFound {
			// Added without a delta: empty file
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := w.Write(val)
			written = int64(n)
			return err
		})
	})
	if err != nil {
		return written, mapError(err)
	}
	return written, nil
}

// GetDir implements store.Repository
func (r *Repository) GetDir(ctx context.Context, p string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	var entries []store.Entry
	err = r.h.db.View(func(txn *badger.Txn) error {
		dir, err := getNode(txn, clean)
		if err != nil {
			return err
		}
		if dir == nil {
			return &store.PathError{Op: "list", Path: clean, Err: store.ErrNotFound}
		}
		if dir.Kind != domain.KindDir {
			return &store.PathError{Op: "list", Path: clean, Err: domain.ErrNotDirectory}
		}

		prefix := keyChildPrefix(clean)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var names []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}

		entries = make([]store.Entry, 0, len(names))
		for _, name := range names {
			childPath := joinPath(clean, name)
			child, err := getNode(txn, childPath)
			if err != nil {
				return err
			}
			if child == nil {
				return fmt.Errorf("dangling child index %q", childPath)
			}
			entries = append(entries, child.entry(childPath))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

// Head returns the youngest revision
func (r *Repository) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var head int64
	err := r.h.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = readHead(txn)
		return err
	})
	return head, mapError(err)
}

// Log returns up to limit revision records, youngest first (limit <= 0 = all)
func (r *Repository) Log(ctx context.Context, limit int) ([]store.CommitInfo, error) {
	var infos []store.CommitInfo
	err := r.h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRevision)
		// Reverse iteration starts at the largest key <= seek key
		for it.Seek([]byte(prefixRevision + "\xff")); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var info store.CommitInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("decode revision: %w", err)
			}
			infos = append(infos, info)
			if limit > 0 && len(infos) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return infos, nil
}

// CommitEditor implements store.Repository
func (r *Repository) CommitEditor(ctx context.Context, message string) (store.Editor, error) {
	return r.CommitEditorAs(ctx, message, r.author)
}

// CommitEditorAs starts an edit whose revision is attributed to author
func (r *Repository) CommitEditorAs(ctx context.Context, message, author string) (*Editor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newEditor(r, message, author), nil
}

func readHead(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(keyHead))
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return parseRevision(val)
}

func encodeRevision(info *store.CommitInfo) ([]byte, error) {
	return json.Marshal(info)
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
