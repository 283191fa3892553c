package testutil

import (
	"context"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/Ning0612/Treewagon/internal/store"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
)

// CreateTestFile creates a test file with the given content.
// name may contain slashes; parent directories are created.
func CreateTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	return path
}

// CreateTestFileWithSize creates a file of size pseudo-random bytes,
// large enough content to span several delta windows
func CreateTestFileWithSize(t *testing.T, dir, name string, size int64) string {
	t.Helper()

	content := make([]byte, size)
	rand.New(rand.NewSource(size)).Read(content)
	return CreateTestFile(t, dir, name, content)
}

// ReadFile returns the content of path as a string
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// MemoryRepository creates an empty in-memory repository that is dropped
// when the test ends. The schemes are registered with the store registry.
func MemoryRepository(t *testing.T) *url.URL {
	t.Helper()

	badgerstore.Setup()
	name := uuid.NewString()
	root, err := badgerstore.CreateMemory(name)
	if err != nil {
		t.Fatalf("failed to create memory repository: %v", err)
	}
	t.Cleanup(func() { _ = badgerstore.DeleteMemory(name) })
	return root
}

// OpenRepository opens a session on root that is closed when the test ends
func OpenRepository(t *testing.T, root *url.URL, author string) *badgerstore.Repository {
	t.Helper()

	repo, err := badgerstore.Open(context.Background(), root.String(), store.Options{Author: author})
	if err != nil {
		t.Fatalf("failed to open repository %s: %v", root, err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}
