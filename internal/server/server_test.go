package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
	"github.com/Ning0612/Treewagon/internal/store/httpstore"
	"github.com/Ning0612/Treewagon/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *badgerstore.Repository) {
	t.Helper()

	root := testutil.MemoryRepository(t)
	repo := testutil.OpenRepository(t, root, "")
	srv, err := New(cfg, repo)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, repo
}

func openClient(t *testing.T, ts *httptest.Server, p string, opts store.Options) (*httpstore.Client, error) {
	t.Helper()

	u, err := url.Parse(ts.URL + p)
	require.NoError(t, err)
	return httpstore.Open(context.Background(), u, opts)
}

// commitFile creates p and every missing parent in one edit
func commitFile(t *testing.T, repo store.Repository, p, content string) (*store.CommitInfo, error) {
	t.Helper()
	ctx := context.Background()

	ed, err := repo.CommitEditor(ctx, "add "+p)
	require.NoError(t, err)
	require.NoError(t, ed.OpenRoot())

	parts := strings.Split(p, "/")
	for i := range parts[:len(parts)-1] {
		require.NoError(t, ed.AddDir(strings.Join(parts[:i+1], "/")))
	}
	require.NoError(t, ed.AddFile(p))
	sum, _, err := store.SendDelta(ctx, ed, p, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, ed.CloseFile(p, sum))
	for range parts {
		require.NoError(t, ed.CloseDir())
	}
	return ed.CloseEdit(ctx)
}

func TestRoundTrip(t *testing.T) {
	for _, mount := range []string{"/repo", "/"} {
		t.Run(mount, func(t *testing.T) {
			ts, local := newTestServer(t, Config{Mount: mount})
			ctx := context.Background()

			client, err := openClient(t, ts, strings.TrimSuffix(mount, "/")+"/com/acme", store.Options{})
			require.NoError(t, err)
			defer client.Close()

			assert.Equal(t, mount, client.Root().Path)
			assert.Equal(t, local.UUID(), client.UUID())

			info, err := commitFile(t, client, "com/acme/app.jar", "jar bytes")
			require.NoError(t, err)
			assert.Equal(t, int64(1), info.Revision)

			kind, err := client.CheckPath(ctx, "com/acme")
			require.NoError(t, err)
			assert.Equal(t, domain.KindDir, kind)

			entry, err := client.Info(ctx, "com/acme/app.jar")
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, int64(len("jar bytes")), entry.Size)
			assert.Equal(t, int64(1), entry.Revision)

			missing, err := client.Info(ctx, "com/acme/nope.jar")
			require.NoError(t, err)
			assert.Nil(t, missing)

			var buf strings.Builder
			n, err := client.GetFile(ctx, "com/acme/app.jar", &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(9), n)
			assert.Equal(t, "jar bytes", buf.String())

			entries, err := client.GetDir(ctx, "com")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "acme", entries[0].Name)

			rootEntries, err := client.GetDir(ctx, "")
			require.NoError(t, err)
			require.Len(t, rootEntries, 1)

			commits, err := client.Log(ctx, 10)
			require.NoError(t, err)
			require.NotEmpty(t, commits)
			assert.Equal(t, int64(1), commits[0].Revision)
			assert.Equal(t, "add com/acme/app.jar", commits[0].Message)

			// The local view sees the same revision
			head, err := local.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), head)
		})
	}
}

func TestReadErrors(t *testing.T) {
	ts, local := newTestServer(t, Config{})
	ctx := context.Background()

	_, err := commitFile(t, local, "dir/file.txt", "x")
	require.NoError(t, err)

	client, err := openClient(t, ts, "/repo", store.Options{})
	require.NoError(t, err)

	_, err = client.GetFile(ctx, "dir", io.Discard)
	assert.ErrorIs(t, err, domain.ErrNotFile)

	_, err = client.GetFile(ctx, "missing.txt", io.Discard)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = client.GetDir(ctx, "dir/file.txt")
	assert.ErrorIs(t, err, domain.ErrNotDirectory)

	_, err = client.GetDir(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = openClient(t, ts, "/elsewhere", store.Options{})
	assert.ErrorIs(t, err, store.ErrNotRepository)
}

func TestEscapedPaths(t *testing.T) {
	ts, local := newTestServer(t, Config{})
	ctx := context.Background()

	client, err := openClient(t, ts, "/repo", store.Options{})
	require.NoError(t, err)

	name := "odd dir/50% off #1!.txt"
	_, err = commitFile(t, client, name, "bargain")
	require.NoError(t, err)

	entry, err := local.Info(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "50% off #1!.txt", entry.Name)

	var buf strings.Builder
	_, err = client.GetFile(ctx, name, &buf)
	require.NoError(t, err)
	assert.Equal(t, "bargain", buf.String())
}

func TestCommitRejected(t *testing.T) {
	ts, local := newTestServer(t, Config{})
	ctx := context.Background()

	client, err := openClient(t, ts, "/repo", store.Options{})
	require.NoError(t, err)

	t.Run("checksum mismatch", func(t *testing.T) {
		ed, err := client.CommitEditor(ctx, "bad checksum")
		require.NoError(t, err)
		require.NoError(t, ed.OpenRoot())
		require.NoError(t, ed.AddDir("a"))
		require.NoError(t, ed.AddFile("a/f.txt"))
		_, _, err = store.SendDelta(ctx, ed, "a/f.txt", strings.NewReader("content"))
		require.NoError(t, err)
		require.NoError(t, ed.CloseFile("a/f.txt", "00000000000000000000000000000000"))
		require.NoError(t, ed.CloseDir())
		require.NoError(t, ed.CloseDir())

		_, err = ed.CloseEdit(ctx)
		assert.ErrorIs(t, err, store.ErrChecksumMismatch)

		// Nothing of the edit is visible
		kind, err := local.CheckPath(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, domain.KindNone, kind)
	})

	t.Run("scope violation", func(t *testing.T) {
		ed, err := client.CommitEditor(ctx, "no root")
		require.NoError(t, err)
		require.NoError(t, ed.AddDir("b"))

		_, err = ed.CloseEdit(ctx)
		assert.ErrorIs(t, err, store.ErrEditorState)
	})

	t.Run("already exists", func(t *testing.T) {
		_, err := commitFile(t, client, "c.txt", "one")
		require.NoError(t, err)
		_, err = commitFile(t, client, "c.txt", "two")
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("closed editor", func(t *testing.T) {
		ed, err := client.CommitEditor(ctx, "aborted")
		require.NoError(t, err)
		require.NoError(t, ed.AbortEdit())
		assert.ErrorIs(t, ed.OpenRoot(), store.ErrEditorState)
		assert.ErrorIs(t, ed.AbortEdit(), store.ErrEditorState)
	})

	head, err := local.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestAuthentication(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	ts, local := newTestServer(t, Config{
		Users:     map[string]string{"alice": hash},
		JWTSecret: testSecret,
	})
	ctx := context.Background()

	t.Run("no credentials", func(t *testing.T) {
		_, err := openClient(t, ts, "/repo", store.Options{})
		assert.True(t, store.IsAuthentication(err), "got %v", err)
	})

	t.Run("wrong password", func(t *testing.T) {
		creds := domain.Credentials{Username: "alice", Password: "wrong"}
		_, err := openClient(t, ts, "/repo", store.Options{Credentials: creds})
		assert.True(t, store.IsAuthentication(err), "got %v", err)
	})

	t.Run("basic", func(t *testing.T) {
		creds := domain.Credentials{Username: "alice", Password: "s3cret"}
		client, err := openClient(t, ts, "/repo", store.Options{Credentials: creds})
		require.NoError(t, err)

		_, err = commitFile(t, client, "alice.txt", "hi")
		require.NoError(t, err)

		commits, err := local.Log(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "alice", commits[0].Author)
	})

	t.Run("bearer", func(t *testing.T) {
		token, err := IssueToken(testSecret, "", "bob", time.Hour)
		require.NoError(t, err)

		client, err := openClient(t, ts, "/repo", store.Options{Credentials: domain.Credentials{Token: token}})
		require.NoError(t, err)

		_, err = commitFile(t, client, "bob.txt", "hi")
		require.NoError(t, err)

		commits, err := local.Log(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "bob", commits[0].Author)
	})

	t.Run("forged token", func(t *testing.T) {
		token, err := IssueToken(strings.Repeat("x", MinSecretLength), "", "mallory", time.Hour)
		require.NoError(t, err)

		_, err = openClient(t, ts, "/repo", store.Options{Credentials: domain.Credentials{Token: token}})
		assert.True(t, store.IsAuthentication(err), "got %v", err)
	})

	t.Run("health is public", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAnonymousRead(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	ts, local := newTestServer(t, Config{
		Users:         map[string]string{"alice": hash},
		AnonymousRead: true,
	})
	_, err = commitFile(t, local, "pub.txt", "public")
	require.NoError(t, err)

	client, err := openClient(t, ts, "/repo", store.Options{})
	require.NoError(t, err)

	var buf strings.Builder
	_, err = client.GetFile(context.Background(), "pub.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "public", buf.String())

	_, err = commitFile(t, client, "anon.txt", "nope")
	assert.True(t, store.IsAuthentication(err), "got %v", err)
}

func TestValidateToken(t *testing.T) {
	auth, err := NewAuthenticator(nil, testSecret, "repo-a")
	require.NoError(t, err)

	good, err := IssueToken(testSecret, "repo-a", "carol", time.Minute)
	require.NoError(t, err)
	claims, err := auth.ValidateToken(good)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.Subject)

	otherIssuer, err := IssueToken(testSecret, "repo-b", "carol", time.Minute)
	require.NoError(t, err)
	_, err = auth.ValidateToken(otherIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "repo-a",
			Subject:   "carol",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = NewAuthenticator(nil, "short", "")
	assert.ErrorIs(t, err, ErrSecretTooShort)

	_, err = IssueToken("short", "", "carol", time.Minute)
	assert.ErrorIs(t, err, ErrSecretTooShort)

	_, err = HashPassword(strings.Repeat("p", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, local := newTestServer(t, Config{Metrics: true})
	_, err := commitFile(t, local, "f.txt", "x")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["revision"])

	mresp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "treewagon_http_requests_total")
}

func TestProblemResponses(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/repo/!api/stat/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, httpstore.ContentTypeProblemJSON, resp.Header.Get("Content-Type"))

	var problem httpstore.Problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, httpstore.CodeNotFound, problem.Code)

	bad, err := http.Post(ts.URL+"/repo/!api/commit", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	limit, err := http.Get(ts.URL + "/repo/!api/log?limit=zero")
	require.NoError(t, err)
	defer limit.Body.Close()
	assert.Equal(t, http.StatusBadRequest, limit.StatusCode)
}

func TestStartStop(t *testing.T) {
	root := testutil.MemoryRepository(t)
	repo := testutil.OpenRepository(t, root, "")

	srv, err := New(Config{Listen: "127.0.0.1:0"}, repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, srv.Stop(context.Background()))

	_, err = New(Config{Mount: "/!api"}, repo)
	assert.Error(t, err)
}
