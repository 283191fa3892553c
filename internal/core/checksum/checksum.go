// Package checksum hashes file content while it streams to a tree store.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// Algorithm names a content hash
type Algorithm string

const (
	// MD5 is the checksum tree stores record for every file
	MD5 Algorithm = "md5"
	// SHA256 is accepted for callers that want a stronger digest
	SHA256 Algorithm = "sha256"
)

// ErrTooLarge is returned when content exceeds Options.MaxSize
var ErrTooLarge = errors.New("content exceeds maximum size")

const defaultWindowSize = 32 * 1024

// Options configures a Calculator
type Options struct {
	// MaxSize rejects longer content; 0 means unlimited
	MaxSize int64
	// WindowSize is the size of each streamed window
	WindowSize int
}

// DeltaOptions are used when sending file content to an editor: no size
// limit, 100KB windows
func DeltaOptions() Options {
	return Options{WindowSize: 100 * 1024}
}

// WindowFunc receives each window of streamed content. The slice is only
// valid for the duration of the call.
type WindowFunc func(window []byte) error

// Calculator hashes streamed content. Its zero value uses 32KB windows.
type Calculator struct {
	opts Options
}

// NewCalculator returns a calculator using opts
func NewCalculator(opts Options) *Calculator {
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	return &Calculator{opts: opts}
}

// NewHash returns a fresh hasher for algo
func NewHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
}

// Calculate returns the hex checksum of r
func (c *Calculator) Calculate(ctx context.Context, r io.Reader, algo Algorithm) (string, error) {
	sum, _, err := c.Stream(ctx, r, algo, nil)
	return sum, err
}

// Stream hashes r while handing every window to fn, which may be nil.
// Windows are full size except the last. It returns the hex checksum and
// the number of bytes read; an error from fn stops the stream and is
// returned unchanged.
func (c *Calculator) Stream(ctx context.Context, r io.Reader, algo Algorithm, fn WindowFunc) (string, int64, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", 0, err
	}

	size := c.opts.WindowSize
	if size <= 0 {
		size = defaultWindowSize
	}
	if c.opts.MaxSize > 0 {
		r = io.LimitReader(r, c.opts.MaxSize+1)
	}

	window := make([]byte, size)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}

		n, rerr := io.ReadFull(r, window)
		if n > 0 {
			total += int64(n)
			if c.opts.MaxSize > 0 && total > c.opts.MaxSize {
				return "", total, fmt.Errorf("%w (%d bytes)", ErrTooLarge, c.opts.MaxSize)
			}
			h.Write(window[:n])
			if fn != nil {
				if err := fn(window[:n]); err != nil {
					return "", total, err
				}
			}
		}

		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			return hex.EncodeToString(h.Sum(nil)), total, nil
		case rerr != nil:
			return "", total, fmt.Errorf("read error: %w", rerr)
		}
	}
}
