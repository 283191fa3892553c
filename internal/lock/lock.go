// Package lock serializes uploads to one repository across treewagon
// processes with an exclusive lock file per repository.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/Treewagon/internal/proc"
)

// DefaultStaleTimeout bounds how long a lock taken on another host is
// honored; its process cannot be checked from here
const DefaultStaleTimeout = 30 * time.Minute

const maxPlainNameLength = 64

// ErrLocked is matched by every LockError
var ErrLocked = errors.New("repository is locked")

var plainName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileNameFor returns the lock file name of a repository. Configured names
// are used as is; addresses and other unsafe names are replaced by a
// name-based UUID.
func FileNameFor(repository string) string {
	name := repository
	if !plainName.MatchString(name) || len(name) > maxPlainNameLength {
		name = uuid.NewSHA1(uuid.NameSpaceURL, []byte(repository)).String()
	}
	return ".treewagon-" + name + ".lock"
}

// LockInfo is the content of a lock file
type LockInfo struct {
	// Token identifies one acquisition; it tells two locks of the same
	// process apart
	Token      uuid.UUID `json:"token"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	StartTime  time.Time `json:"start_time"`
	Repository string    `json:"repository"`
	Operation  string    `json:"operation,omitempty"`
}

// FileLock is the upload lock of one repository. It is not safe for
// concurrent use; each goroutine uploading should hold its own FileLock.
type FileLock struct {
	path         string
	repository   string
	staleTimeout time.Duration
	held         *LockInfo
}

// NewFileLock creates the lock of repository inside lockDir. An empty
// lockDir selects the user config directory.
func NewFileLock(lockDir, repository string) (*FileLock, error) {
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if lockDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		lockDir = filepath.Join(configDir, "treewagon", "locks")
	}
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:         filepath.Join(lockDir, FileNameFor(repository)),
		repository:   repository,
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// SetStaleTimeout overrides DefaultStaleTimeout
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock for operation. Acquiring a lock this FileLock
// already holds only records the new operation. A lock whose holder is
// gone is taken over; a live holder gives a *LockError.
func (l *FileLock) Acquire(operation string) error {
	if l.held != nil {
		if current, err := l.read(); err == nil && current.Token == l.held.Token {
			current.Operation = operation
			if err := l.rewrite(current); err != nil {
				return err
			}
			l.held = current
			return nil
		}
		// Removed or replaced behind our back; start over
		l.held = nil
	}

	switch current, err := l.read(); {
	case err == nil && !l.isStale(current):
		return &LockError{Holder: current, Reason: "lock is held by another process"}
	case err == nil, !errors.Is(err, os.ErrNotExist):
		// Stale or unreadable
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		Token:      uuid.New(),
		PID:        os.Getpid(),
		Hostname:   hostname,
		StartTime:  time.Now(),
		Repository: l.repository,
		Operation:  operation,
	}

	tmp, err := l.writeTemp(info)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link fails when the name exists, so one of several racing processes
	// wins, and readers never see a half-written lock
	if err := os.Link(tmp, l.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := l.read()
			return &LockError{Holder: holder, Reason: "lock acquired by another process during acquisition"}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	l.held = info
	return nil
}

// Release drops the lock. Releasing a lock that is not held is a no-op; a
// lock replaced by another process is left alone and reported.
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	held := l.held
	l.held = nil

	current, err := l.read()
	if err != nil {
		return nil
	}
	if current.Token != held.Token {
		return fmt.Errorf("lock on %s was taken over by PID %d", l.repository, current.PID)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live holder owns the lock
func (l *FileLock) IsLocked() bool {
	_, err := l.Holder()
	return err == nil
}

// Holder returns the live holder of the lock
func (l *FileLock) Holder() (*LockInfo, error) {
	info, err := l.read()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock is stale (PID %d on %s)", info.PID, info.Hostname)
	}
	return info, nil
}

// ForceRelease removes the lock file whoever holds it
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.held = nil
	return nil
}

func (l *FileLock) read() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", l.path, err)
	}
	return &info, nil
}

func (l *FileLock) rewrite(info *LockInfo) error {
	tmp, err := l.writeTemp(info)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to update lock file: %w", err)
	}
	return nil
}

// writeTemp writes info to a new file next to the lock file
func (l *FileLock) writeTemp(info *LockInfo) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(l.path), ".treewagon-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	err = enc.Encode(info)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write lock info: %w", err)
	}
	return f.Name(), nil
}

// isStale reports whether the holder is gone. On this host that means its
// process has exited, however old the lock is. Locks from other hosts
// expire after the stale timeout.
func (l *FileLock) isStale(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !proc.Alive(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}

// LockError reports a lock held by someone else
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("cannot acquire lock: %s", e.Reason)
	}
	h := e.Holder
	return fmt.Sprintf("cannot acquire lock on %s: %s (held by PID %d on %s since %s, operation: %s)",
		h.Repository, e.Reason, h.PID, h.Hostname, h.StartTime.Format(time.RFC3339), h.Operation)
}

func (e *LockError) Unwrap() error {
	return ErrLocked
}

// IsLockError reports whether err is or wraps a *LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
