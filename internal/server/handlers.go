package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/metrics"
	"github.com/Ning0612/Treewagon/internal/store"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
	"github.com/Ning0612/Treewagon/internal/store/httpstore"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 1000
)

// repoHandler serves one repository
type repoHandler struct {
	repo      *badgerstore.Repository
	mount     string
	maxCommit int64
	metrics   *metrics.ServerMetrics
	log       logger.Logger
}

// repoPath returns the unescaped wildcard of the route ("" for the root)
func repoPath(r *http.Request) (string, error) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || !strings.HasSuffix(rctx.RoutePattern(), "*") {
		return "", nil
	}
	p := rctx.URLParam("*")
	// chi matches on the escaped path when the request has one
	if r.URL.RawPath != "" {
		return url.PathUnescape(p)
	}
	return p, nil
}

// Discover announces the repository root
func (h *repoHandler) Discover(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(httpstore.HeaderRoot, h.mount)
	w.Header().Set(httpstore.HeaderUUID, h.repo.UUID())
	w.Header().Set("Allow", "OPTIONS, GET, POST")
	w.WriteHeader(http.StatusNoContent)
}

// Stat handles GET /!api/stat/*
func (h *repoHandler) Stat(w http.ResponseWriter, r *http.Request) {
	p, err := repoPath(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entry, err := h.repo.Info(r.Context(), p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entry == nil {
		writeProblem(w, http.StatusNotFound, httpstore.CodeNotFound, p+" does not exist")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// List handles GET /!api/list/*
func (h *repoHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := repoPath(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entries, err := h.repo.GetDir(r.Context(), p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Content handles GET /!api/content/*
func (h *repoHandler) Content(w http.ResponseWriter, r *http.Request) {
	p, err := repoPath(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entry, err := h.repo.Info(r.Context(), p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	switch {
	case entry == nil:
		writeProblem(w, http.StatusNotFound, httpstore.CodeNotFound, p+" does not exist")
		return
	case entry.Kind != domain.KindFile:
		writeProblem(w, http.StatusBadRequest, httpstore.CodeNotFile, p+" is not a file")
		return
	}

	contentType := entry.Properties[store.PropMimeType]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.Header().Set("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", strconv.Quote(entry.Checksum))
	w.WriteHeader(http.StatusOK)

	if _, err := h.repo.GetFile(r.Context(), p, w); err != nil {
		// Headers are gone; the short body tells the client
		h.log.Error("failed to stream content", "path", p, "error", err)
	}
}

// Log handles GET /!api/log
func (h *repoHandler) Log(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	commits, err := h.repo.Log(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if commits == nil {
		commits = []store.CommitInfo{}
	}
	writeJSON(w, http.StatusOK, commits)
}

// Commit handles POST /!api/commit. The recorded edit is replayed onto a
// local editor and committed as one revision attributed to the caller.
func (h *repoHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req httpstore.CommitRequest
	body := http.MaxBytesReader(w, r.Body, h.maxCommit)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, httpstore.CodeTooLarge, err.Error())
			return
		}
		badRequest(w, "invalid commit request: "+err.Error())
		return
	}

	user := UserFromContext(r.Context())
	log := h.log.With("request_id", requestID(r), "user", user, "operations", len(req.Ops))

	editor, err := h.repo.CommitEditorAs(r.Context(), req.Message, user)
	if err != nil {
		h.metrics.ObserveCommit(err)
		writeStoreError(w, err)
		return
	}
	if err := httpstore.Replay(editor, req.Ops); err != nil {
		_ = editor.AbortEdit()
		h.metrics.ObserveCommit(err)
		log.Warn("commit rejected", "error", err)
		writeStoreError(w, err)
		return
	}
	info, err := editor.CloseEdit(r.Context())
	h.metrics.ObserveCommit(err)
	if err != nil {
		_ = editor.AbortEdit()
		log.Warn("commit failed", "error", err)
		writeStoreError(w, err)
		return
	}

	log.Info("commit accepted", "revision", info.Revision)
	writeJSON(w, http.StatusOK, info)
}

// Health handles GET /health
func (h *repoHandler) Health(w http.ResponseWriter, r *http.Request) {
	head, err := h.repo.Head(r.Context())
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, httpstore.CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uuid":     h.repo.UUID(),
		"revision": head,
	})
}
