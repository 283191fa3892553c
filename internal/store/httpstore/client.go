// Package httpstore is a store client for repositories served over HTTP by
// "treewagon serve". Reads map to single requests; a tree edit is recorded
// locally and shipped as one commit request when it is closed.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/store"
)

var setupOnce sync.Once

// Setup registers the http and https schemes with the store registry
func Setup() {
	setupOnce.Do(func() {
		store.Register("http", openURL)
		store.Register("https", openURL)
	})
}

// Client is a session with a remote repository
type Client struct {
	root     *url.URL
	uuid     string
	http     *http.Client
	username string
	password string
	log      logger.Logger
}

var _ store.Repository = (*Client)(nil)

func openURL(ctx context.Context, u *url.URL, opts store.Options) (store.Repository, error) {
	return Open(ctx, u, opts)
}

// Open discovers the repository root serving u and returns a session for it
func Open(ctx context.Context, u *url.URL, opts store.Options) (*Client, error) {
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	c := &Client{
		http: base,
		log:  logger.With("component", "httpstore", "host", u.Host),
	}
	switch {
	case opts.Token != "":
		ctx := context.WithValue(ctx, oauth2.HTTPClient, base)
		c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	case opts.Username != "":
		c.username = opts.Username
		c.password = opts.Password
	}

	probe := *u
	probe.RawQuery = ""
	probe.Fragment = ""
	req, err := c.newRequest(ctx, http.MethodOptions, probe.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", u.Redacted(), err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		err := responseError(resp)
		if resp.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %s", store.ErrNotRepository, u.Redacted())
		}
		return nil, err
	}
	rootPath := resp.Header.Get(HeaderRoot)
	if rootPath == "" {
		return nil, fmt.Errorf("%w: %s did not announce a repository root", store.ErrNotRepository, u.Redacted())
	}

	root := probe
	root.Path = "/" + strings.Trim(rootPath, "/")
	root.RawPath = ""
	root.User = nil
	c.root = &root
	c.uuid = resp.Header.Get(HeaderUUID)

	c.log.Debug("repository discovered", "root", root.String(), "uuid", c.uuid)
	return c, nil
}

// Root returns the repository root URL
func (c *Client) Root() *url.URL {
	u := *c.root
	return &u
}

// UUID returns the identity announced by the server
func (c *Client) UUID() string {
	return c.uuid
}

func (c *Client) apiURL(kind, p string) string {
	u := strings.TrimSuffix(c.root.String(), "/") + "/" + APISegment + "/" + kind
	if p != "" {
		u += "/" + EscapePath(strings.Trim(p, "/"))
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends the request and returns the response when it succeeded
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 300 {
		defer drain(resp)
		return nil, responseError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return json.NewDecoder(resp.Body).Decode(v)
}

// CheckPath returns the kind of the node at p
func (c *Client) CheckPath(ctx context.Context, p string) (domain.NodeKind, error) {
	entry, err := c.Info(ctx, p)
	if err != nil || entry == nil {
		return domain.KindNone, err
	}
	return entry.Kind, nil
}

// Info returns the node at p, or nil if it does not exist
func (c *Client) Info(ctx context.Context, p string) (*store.Entry, error) {
	var entry store.Entry
	err := c.getJSON(ctx, c.apiURL("stat", p), &entry)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &store.PathError{Op: "stat", Path: p, Err: err}
	}
	return &entry, nil
}

// GetFile streams the content of the file at p into w
func (c *Client) GetFile(ctx context.Context, p string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("content", p), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	resp, err := c.do(req)
	if err != nil {
		return 0, &store.PathError{Op: "get file", Path: p, Err: err}
	}
	defer drain(resp)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &store.PathError{Op: "get file", Path: p, Err: err}
	}
	return n, nil
}

// GetDir returns the children of the directory at p
func (c *Client) GetDir(ctx context.Context, p string) ([]store.Entry, error) {
	var entries []store.Entry
	if err := c.getJSON(ctx, c.apiURL("list", p), &entries); err != nil {
		return nil, &store.PathError{Op: "get dir", Path: p, Err: err}
	}
	return entries, nil
}

// Log returns up to limit commits, newest first
func (c *Client) Log(ctx context.Context, limit int) ([]store.CommitInfo, error) {
	var commits []store.CommitInfo
	u := c.apiURL("log", "") + "?limit=" + strconv.Itoa(limit)
	if err := c.getJSON(ctx, u, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}

// CommitEditor starts a locally recorded edit
func (c *Client) CommitEditor(ctx context.Context, message string) (store.Editor, error) {
	return &recorder{client: c, message: message}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) commit(ctx context.Context, body CommitRequest) (*store.CommitInfo, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("commit", ""), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	var info store.CommitInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode commit response: %w", err)
	}
	c.log.Debug("edit committed", "revision", info.Revision, "operations", len(body.Ops))
	return &info, nil
}

func responseError(resp *http.Response) error {
	var body Problem
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &body)
	return codeError(resp.StatusCode, body)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
