package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/Treewagon/internal/proc"
)

// ErrNotRunning indicates no live server owns the PID file
var ErrNotRunning = errors.New("server is not running")

// Info describes a running repository server
type Info struct {
	PID        int       `json:"pid"`
	Listen     string    `json:"listen"`
	Repository string    `json:"repository"`
	Started    time.Time `json:"started"`
}

// PIDFile manages the PID file of "treewagon serve"
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// DefaultPIDPath returns the default PID file path
func DefaultPIDPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	pidDir := filepath.Join(homeDir, ".config", "treewagon")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create PID directory: %w", err)
	}

	return filepath.Join(pidDir, "serve.pid"), nil
}

// Path returns the PID file path
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. It fails while another live server
// owns the file; a stale file is replaced.
func (p *PIDFile) Write(info Info) error {
	existing, err := p.Read()
	switch {
	case err == nil && proc.Alive(existing.PID):
		return fmt.Errorf("server is already running (PID %d, listening on %s)", existing.PID, existing.Listen)
	case err == nil || !errors.Is(err, ErrNotRunning):
		// Stale or unreadable PID file, remove it
		os.Remove(p.path)
	}

	info.PID = os.Getpid()
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("PID file %s was created by another process", p.path)
		}
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID file: %w", werr)
	}
	return nil
}

// Read returns the recorded server
func (p *PIDFile) Read() (*Info, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: PID file does not exist: %s", ErrNotRunning, p.path)
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	var info Info
	if err := json.Unmarshal(content, &info); err != nil || info.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file: %s", p.path)
	}
	return &info, nil
}

// Remove removes the PID file if it belongs to the current process
func (p *PIDFile) Remove() error {
	info, err := p.Read()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return err
	}
	if info.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Running returns the recorded server when its process is alive
func (p *PIDFile) Running() (*Info, error) {
	info, err := p.Read()
	if err != nil {
		return nil, err
	}
	if !proc.Alive(info.PID) {
		return nil, fmt.Errorf("%w: stale PID file for PID %d", ErrNotRunning, info.PID)
	}
	return info, nil
}

// Stop asks the recorded server to shut down
func (p *PIDFile) Stop() (*Info, error) {
	info, err := p.Running()
	if err != nil {
		return nil, err
	}
	return info, proc.Terminate(info.PID)
}
