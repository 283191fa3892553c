// Package badgerstore implements a versioned tree store on top of BadgerDB.
//
// A repository is a directory holding a format marker and a Badger database.
// Every tree edit runs inside one Badger write transaction, so a commit makes
// all of its directories and files visible at once and an abort leaves no
// trace. In-memory repositories (mem://name) back hermetic tests.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/store"
)

// FormatFile marks the root directory of a repository
const FormatFile = "treestore.format"

const (
	formatVersion = "1\n"
	dbDir         = "db"
	schemeFile    = "file"
	schemeMemory  = "mem"
)

var setupOnce sync.Once

// Setup registers the file and mem schemes with the store registry.
// It is safe to call from several goroutines; registration happens once.
func Setup() {
	setupOnce.Do(func() {
		store.Register(schemeFile, openFileURL)
		store.Register(schemeMemory, openMemoryURL)
	})
}

// ============================================================================
// Shared Database Handles
// ============================================================================
//
// Badger holds an exclusive lock on its directory, so every session in the
// process shares one handle per repository. Handles are reference counted;
// on-disk databases close with their last session, in-memory ones live until
// DeleteMemory.

type handle struct {
	key    string
	root   *url.URL
	db     *badger.DB
	uuid   string
	refs   int
	memory bool
}

var (
	handlesMu sync.Mutex
	handles   = make(map[string]*handle)
)

func openDB(dir string, memory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(logger.Get())).
		WithLoggingLevel(badger.WARNING)
	if memory {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// acquire returns the shared handle for key, opening it with open if needed
func acquire(key string, open func() (*handle, error)) (*handle, error) {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	if h, ok := handles[key]; ok {
		h.refs++
		return h, nil
	}

	h, err := open()
	if err != nil {
		return nil, err
	}
	h.key = key
	h.refs = 1
	handles[key] = h
	return h, nil
}

func release(h *handle) error {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	h.refs--
	if h.refs > 0 || h.memory {
		return nil
	}
	delete(handles, h.key)
	return h.db.Close()
}

// initialize writes revision 0: an empty root directory
func initialize(db *badger.DB, now time.Time) (string, error) {
	id := uuid.New().String()
	root, err := encodeNode(&node{Kind: domain.KindDir, Date: now})
	if err != nil {
		return "", err
	}
	rev, err := encodeRevision(&store.CommitInfo{Revision: 0, Date: now})
	if err != nil {
		return "", err
	}

	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keyHead)); err == nil {
			return fmt.Errorf("repository already initialized: %w", store.ErrAlreadyExists)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set([]byte(keyUUID), []byte(id)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyHead), []byte("0")); err != nil {
			return err
		}
		if err := txn.Set(keyNode(""), root); err != nil {
			return err
		}
		return txn.Set(keyRevision(0), rev)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func readUUID(db *badger.DB) (string, error) {
	var id string
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyUUID))
		if err == badger.ErrKeyNotFound {
			return store.ErrNotRepository
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = string(val)
		return nil
	})
	return id, err
}

// Create creates a new repository in dir and returns its root URL
func Create(dir string) (*url.URL, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	marker := filepath.Join(absDir, FormatFile)
	if _, err := os.Stat(marker); err == nil {
		return nil, fmt.Errorf("%s: %w", absDir, store.ErrAlreadyExists)
	}

	if err := os.MkdirAll(filepath.Join(absDir, dbDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	db, err := openDB(filepath.Join(absDir, dbDir), false)
	if err != nil {
		return nil, err
	}
	if _, err := initialize(db, time.Now().UTC()); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, err
	}

	// The marker is written last so a half-created repository is never found
	if err := os.WriteFile(marker, []byte(formatVersion), 0644); err != nil {
		return nil, fmt.Errorf("failed to write format file: %w", err)
	}

	logger.Get().Info("repository created", "path", absDir)
	return fileURL(absDir), nil
}

// CreateMemory creates an in-memory repository addressed mem://name
func CreateMemory(name string) (*url.URL, error) {
	if name == "" {
		return nil, fmt.Errorf("memory repository name is empty: %w", store.ErrNotRepository)
	}
	root := &url.URL{Scheme: schemeMemory, Host: name}

	handlesMu.Lock()
	defer handlesMu.Unlock()

	key := root.String()
	if _, ok := handles[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, store.ErrAlreadyExists)
	}

	db, err := openDB("", true)
	if err != nil {
		return nil, err
	}
	id, err := initialize(db, time.Now().UTC())
	if err != nil {
		db.Close()
		return nil, err
	}

	// refs stays at zero: the repository outlives its sessions
	handles[key] = &handle{key: key, root: root, db: db, uuid: id, memory: true}
	return root, nil
}

// DeleteMemory drops an in-memory repository and all of its content
func DeleteMemory(name string) error {
	key := (&url.URL{Scheme: schemeMemory, Host: name}).String()

	handlesMu.Lock()
	h, ok := handles[key]
	if ok {
		delete(handles, key)
	}
	handlesMu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", key, store.ErrNotRepository)
	}
	return h.db.Close()
}

func fileURL(dir string) *url.URL {
	return &url.URL{Scheme: schemeFile, Path: filepath.ToSlash(dir)}
}

// findRoot walks up from dir until it finds a repository marker
func findRoot(dir string) (string, error) {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(filepath.Join(dir, FormatFile)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", store.ErrNotRepository
		}
		dir = parent
	}
}

func openFileURL(ctx context.Context, u *url.URL, opts store.Options) (store.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.Host != "" && u.Host != "localhost" {
		return nil, fmt.Errorf("remote file URL %q: %w", u.String(), store.ErrUnsupportedScheme)
	}

	rootDir, err := findRoot(filepath.FromSlash(u.Path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.String(), err)
	}

	h, err := acquire(rootDir, func() (*handle, error) {
		db, err := openDB(filepath.Join(rootDir, dbDir), false)
		if err != nil {
			return nil, err
		}
		id, err := readUUID(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &handle{root: fileURL(rootDir), db: db, uuid: id}, nil
	})
	if err != nil {
		return nil, err
	}
	return newRepository(h, opts), nil
}

func openMemoryURL(ctx context.Context, u *url.URL, opts store.Options) (store.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := (&url.URL{Scheme: schemeMemory, Host: u.Host}).String()

	handlesMu.Lock()
	defer handlesMu.Unlock()

	h, ok := handles[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotRepository)
	}
	h.refs++
	return newRepository(h, opts), nil
}

// Open opens a session on the repository containing u without going through
// the scheme registry. It is used by the HTTP server.
func Open(ctx context.Context, rawURL string, opts store.Options) (*Repository, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	var repo store.Repository
	switch u.Scheme {
	case schemeFile:
		repo, err = openFileURL(ctx, u, opts)
	case schemeMemory:
		repo, err = openMemoryURL(ctx, u, opts)
	default:
		err = fmt.Errorf("%w: %q", store.ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return repo.(*Repository), nil
}

// mapError converts Badger errors to store errors
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("%w: %v", store.ErrTooLarge, err)
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.ErrNotFound
	default:
		return err
	}
}

func parseRevision(val []byte) (int64, error) {
	rev, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt head revision %q: %w", val, err)
	}
	return rev, nil
}
