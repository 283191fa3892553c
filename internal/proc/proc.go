// Package proc answers liveness questions about the processes named in
// upload lock files and the server PID file.
package proc

import "fmt"

// Alive reports whether a process with pid exists. A process owned by
// another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}

// Terminate asks the process to stop. On Windows there is no graceful
// signal, so the process is killed.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := terminate(pid); err != nil {
		return fmt.Errorf("failed to stop process %d: %w", pid, err)
	}
	return nil
}
