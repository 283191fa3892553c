// Package wagon transfers files and directory trees between the local
// filesystem and a versioned tree store.
//
// Every put of a connection is buffered into one lazily opened tree edit
// that is committed atomically when the connection closes, or aborted as a
// whole when any of its mutations failed. A read of a path written earlier
// on the same connection first forces the pending edit out so the read
// observes the new content.
//
// A Wagon serves one caller at a time; concurrent calls must be serialized
// by the caller.
package wagon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/metrics"
	"github.com/Ning0612/Treewagon/internal/progress"
	"github.com/Ning0612/Treewagon/internal/state"
	"github.com/Ning0612/Treewagon/internal/store"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
	"github.com/Ning0612/Treewagon/internal/store/httpstore"
)

// DefaultCommitPrefix starts every commit message
const DefaultCommitPrefix = "[treewagon]"

var setupOnce sync.Once

// setupStores registers the built-in store schemes exactly once per process
func setupStores() {
	setupOnce.Do(func() {
		badgerstore.Setup()
		httpstore.Setup()
	})
}

// Journal records closed write sessions
type Journal interface {
	RecordSession(record state.SessionRecord) error
}

// Options configures a Wagon
type Options struct {
	// CommitPrefix starts every commit message (default "[treewagon]")
	CommitPrefix string

	// AutoProps are applied to newly added files
	AutoProps []domain.AutoPropRule

	// MimeTypes extend the built-in extension table
	MimeTypes map[string]string

	// Listener receives transfer events (nil = none)
	Listener progress.Listener

	// Journal records every closed write session (nil = none)
	Journal Journal

	// Metrics records transfers and sessions (nil = none)
	Metrics *metrics.TransferMetrics

	// Logger defaults to the global logger
	Logger logger.Logger

	// HTTPClient is used by network stores
	HTTPClient *http.Client

	// Author recorded by stores that do not authenticate
	Author string
}

// Wagon is a transfer client for one repository connection at a time
type Wagon struct {
	opts     Options
	props    *AutoProps
	listener progress.Listener
	log      logger.Logger
	conn     *connection
}

// connection holds the state between Connect and Disconnect
type connection struct {
	address string
	root    *url.URL
	relRoot string
	opts    store.Options

	reader    *reader
	writeRepo store.Repository
	session   *writeSession
}

// New creates a Wagon
func New(opts Options) *Wagon {
	if opts.CommitPrefix == "" {
		opts.CommitPrefix = DefaultCommitPrefix
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	listener := opts.Listener
	if listener == nil {
		listener = progress.NullListener{}
	}
	return &Wagon{
		opts:     opts,
		props:    NewAutoProps(opts.AutoProps, opts.MimeTypes),
		listener: listener,
		log:      log.With("component", "wagon"),
	}
}

// SupportsDirectoryCopy reports that PutDirectory uploads whole trees
func (w *Wagon) SupportsDirectoryCopy() bool {
	return true
}

// Connected reports whether a connection is open
func (w *Wagon) Connected() bool {
	return w.conn != nil
}

// Root returns the store root URL of the open connection
func (w *Wagon) Root() *url.URL {
	if w.conn == nil {
		return nil
	}
	u := *w.conn.root
	return &u
}

// RelativeRoot returns where the transfer root lives inside the store
func (w *Wagon) RelativeRoot() string {
	if w.conn == nil {
		return ""
	}
	return w.conn.relRoot
}

// Connect opens a connection to address, a "tree:" prefixed store URL.
// The store root is discovered once; the discovery session is closed again
// and reads reopen the store at its root on first use.
func (w *Wagon) Connect(ctx context.Context, address string, creds domain.Credentials) error {
	if w.conn != nil {
		return fmt.Errorf("%w: already connected to %s", domain.ErrConnection, w.conn.address)
	}
	if !strings.HasPrefix(address, domain.AddressPrefix) {
		return fmt.Errorf("%w: unexpected protocol in %q (want %s)", domain.ErrConnection, address, domain.AddressPrefix)
	}
	setupStores()

	rawURL := strings.TrimPrefix(address, domain.AddressPrefix)
	requested, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	author := w.opts.Author
	if author == "" {
		author = creds.Username
	}
	opts := store.Options{Credentials: creds, Author: author, HTTPClient: w.opts.HTTPClient}

	discovery, err := store.Open(ctx, rawURL, opts)
	if err != nil {
		return connectError(err)
	}
	root := discovery.Root()
	if err := discovery.Close(); err != nil {
		w.log.Warn("failed to close discovery session", "error", err)
	}

	relRoot, ok := relativeRoot(requested.Path, root.Path)
	if !ok {
		return fmt.Errorf("%w: %s is not inside store root %s", domain.ErrConnection, rawURL, root)
	}

	conn := &connection{
		address: address,
		root:    root,
		relRoot: relRoot,
		opts:    opts,
	}
	rootURL := root.String()
	conn.reader = &reader{open: func(ctx context.Context) (store.Repository, error) {
		return store.Open(ctx, rootURL, opts)
	}}
	w.conn = conn

	w.log.Info("connected", "repository", address, "root", rootURL, "relative_root", relRoot)
	return nil
}

// Disconnect commits or aborts the pending write session and closes the
// connection. The connection is closed even when the flush fails.
func (w *Wagon) Disconnect(ctx context.Context) error {
	conn := w.conn
	if conn == nil {
		return nil
	}
	w.conn = nil

	flushErr := w.flush(ctx, conn)

	var errs []error
	if flushErr != nil {
		errs = append(errs, fmt.Errorf("%w: %w", domain.ErrConnection, flushErr))
	}
	if conn.writeRepo != nil {
		if err := conn.writeRepo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", domain.ErrConnection, err))
		}
		conn.writeRepo = nil
	}
	if err := conn.reader.close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", domain.ErrConnection, err))
	}

	w.log.Info("disconnected", "repository", conn.address)
	return errors.Join(errs...)
}

func (w *Wagon) connection() (*connection, error) {
	if w.conn == nil {
		return nil, fmt.Errorf("%w: not connected", domain.ErrConnection)
	}
	return w.conn, nil
}

// session returns the open write session, opening one if needed.
// path names the first mutation in the commit message.
func (w *Wagon) session(ctx context.Context, conn *connection, path string) (*writeSession, error) {
	if conn.session != nil {
		return conn.session, nil
	}

	if conn.writeRepo == nil {
		repo, err := store.Open(ctx, conn.root.String(), conn.opts)
		if err != nil {
			return nil, err
		}
		conn.writeRepo = repo
	}

	message := w.opts.CommitPrefix + " " + path
	s, err := openWriteSession(ctx, conn.writeRepo, message, conn.reader, w.props, w.log.With("repository", conn.address))
	if err != nil {
		return nil, err
	}
	conn.session = s
	return s, nil
}

// flush ends the pending write session, if any. The session reference is
// cleared whatever the outcome.
func (w *Wagon) flush(ctx context.Context, conn *connection) error {
	s := conn.session
	if s == nil {
		return nil
	}
	conn.session = nil

	record, _, err := s.close(ctx)
	record.Repository = conn.address

	w.opts.Metrics.ObserveSession(record.Status, record.EndTime.Sub(record.StartTime), record.Files)
	if w.opts.Journal != nil {
		if jerr := w.opts.Journal.RecordSession(record); jerr != nil {
			w.log.Warn("failed to record write session", "session", record.ID, "error", jerr)
		}
	}
	return err
}

// Flush commits (or aborts) the pending write session now
func (w *Wagon) Flush(ctx context.Context) error {
	conn, err := w.connection()
	if err != nil {
		return err
	}
	return transferError(w.flush(ctx, conn))
}

// connectError maps store errors raised while connecting
func connectError(err error) error {
	if store.IsAuthentication(err) {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

// transferError maps store and local errors raised by transfer operations
func transferError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrResourceNotFound),
		errors.Is(err, domain.ErrAuthorization),
		errors.Is(err, domain.ErrConnection):
		return err
	case store.IsAuthentication(err):
		return fmt.Errorf("%w: %w", domain.ErrAuthorization, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
}

func notFound(name, reason string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrResourceNotFound, name, reason)
}

// fire sends one transfer event to the listener
func (w *Wagon) fire(t progress.EventType, req progress.RequestType, res *domain.Resource, local string, n int64, err error) {
	w.listener.TransferEvent(progress.Event{
		Type:      t,
		Request:   req,
		Resource:  *res,
		LocalPath: local,
		Bytes:     n,
		Error:     err,
	})
}

// since measures a duration for logs
func since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
