//go:build !windows

package proc

import (
	"errors"

	"golang.org/x/sys/unix"
)

func alive(pid int) bool {
	// Signal 0 only checks for existence; EPERM means it exists
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
