// Package server serves a badger-backed repository over HTTP for the
// httpstore client.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/metrics"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
)

// Defaults
const (
	DefaultListen         = "127.0.0.1:8642"
	DefaultMount          = "/repo"
	DefaultRequestTimeout = 5 * time.Minute
	DefaultMaxCommitBytes = 512 << 20
	shutdownTimeout       = 5 * time.Second
)

// Config configures the repository server
type Config struct {
	// Listen is the TCP address to listen on
	Listen string

	// Mount is the URL path of the repository root
	Mount string

	// Users maps user names to bcrypt password hashes
	Users map[string]string

	// JWTSecret enables Bearer tokens (at least 32 characters)
	JWTSecret string

	JWTIssuer string

	// AnonymousRead allows reads without credentials when auth is enabled
	AnonymousRead bool

	// Metrics exposes /metrics
	Metrics bool

	RequestTimeout time.Duration

	// MaxCommitBytes bounds the size of a commit request body
	MaxCommitBytes int64
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Mount == "" {
		c.Mount = DefaultMount
	}
	c.Mount = "/" + strings.Trim(c.Mount, "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxCommitBytes <= 0 {
		c.MaxCommitBytes = DefaultMaxCommitBytes
	}
}

// Server is the repository HTTP server
type Server struct {
	server       *http.Server
	handler      http.Handler
	config       Config
	log          logger.Logger
	shutdownOnce sync.Once
}

// New creates a server for repo. The server is created stopped; call Start.
func New(cfg Config, repo *badgerstore.Repository) (*Server, error) {
	cfg.applyDefaults()
	if strings.Contains(cfg.Mount, "!api") {
		return nil, fmt.Errorf("mount %q must not contain the API segment", cfg.Mount)
	}

	auth, err := NewAuthenticator(cfg.Users, cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}

	log := logger.With("component", "server")
	if !auth.Enabled() {
		log.Warn("authentication disabled: no users and no JWT secret configured")
	}

	if cfg.Metrics {
		metrics.InitRegistry()
	}
	m := metrics.NewServerMetrics()

	h := &repoHandler{
		repo:      repo,
		mount:     cfg.Mount,
		maxCommit: cfg.MaxCommitBytes,
		metrics:   m,
		log:       log,
	}
	handler := newRouter(h, auth, cfg, m, log)

	return &Server{
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		handler: handler,
		config:  cfg,
		log:     log,
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is cancelled or serving fails.
// Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("repository server listening", "address", ln.Addr().String(), "mount", s.config.Mount)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("repository server shutdown signal received")
		// The cancelled ctx would abort the shutdown immediately
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("repository server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("repository server shutdown: %w", err)
			s.log.Error("repository server shutdown error", "error", err)
		} else {
			s.log.Info("repository server stopped")
		}
	})
	return shutdownErr
}

// Mount returns the URL path of the repository root
func (s *Server) Mount() string {
	return s.config.Mount
}
