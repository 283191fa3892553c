// Package localfs handles the local side of transfers: downloads are written
// under a temporary name and renamed into place only when complete.
package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TempSuffix marks partial downloads
const TempSuffix = ".treewagon.tmp"

// ErrFinished indicates Commit or Abort was already called
var ErrFinished = errors.New("file already committed or aborted")

// EnsureParent creates the parent directories of path
func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// AtomicFile is written next to its destination and renamed into place by
// Commit. Until then an existing destination is left untouched.
type AtomicFile struct {
	*os.File
	path     string
	finished bool
}

// Create opens a temporary file for path, creating parent directories
func Create(path string) (*AtomicFile, error) {
	if err := EnsureParent(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path + TempSuffix)
	if err != nil {
		return nil, err
	}
	return &AtomicFile{File: f, path: path}, nil
}

// Path returns the destination path
func (f *AtomicFile) Path() string {
	return f.path
}

// Commit closes the file and renames it to its destination
func (f *AtomicFile) Commit() error {
	if f.finished {
		return ErrFinished
	}
	f.finished = true

	tempPath := f.File.Name()
	if err := f.File.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	// Atomic rename
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// Abort closes and removes the temporary file. It is a no-op after Commit.
func (f *AtomicFile) Abort() error {
	if f.finished {
		return nil
	}
	f.finished = true

	f.File.Close()
	if err := os.Remove(f.File.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Entry is a directory entry with symlinks resolved
type Entry struct {
	Name string
	Path string
	Info os.FileInfo
}

// IsDir reports whether the entry is, or links to, a directory
func (e Entry) IsDir() bool {
	return e.Info.IsDir()
}

// ReadDir returns the entries of dir sorted by name. Symlinks are followed,
// so a link to a directory is reported as a directory; a dangling link is
// an error.
func ReadDir(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		p := filepath.Join(dir, d.Name())
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: d.Name(), Path: p, Info: info})
	}
	return entries, nil
}

// SameAsAny reports whether info is the same file as one of dirs. Walkers
// use it to stop at a symlink leading back to a directory they are in.
func SameAsAny(info os.FileInfo, dirs []os.FileInfo) bool {
	for _, d := range dirs {
		if os.SameFile(info, d) {
			return true
		}
	}
	return false
}
