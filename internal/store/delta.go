package store

import (
	"context"
	"fmt"
	"io"

	"github.com/Ning0612/Treewagon/internal/core/checksum"
)

// SendDelta replaces the content of the open file path with the content of r.
// The reader is streamed to the editor in fixed windows while its MD5
// checksum is computed; the checksum is returned for CloseFile.
func SendDelta(ctx context.Context, editor Editor, path string, r io.Reader) (string, int64, error) {
	if err := editor.ApplyTextDelta(path); err != nil {
		return "", 0, err
	}

	calc := checksum.NewCalculator(checksum.DeltaOptions())
	sum, n, err := calc.Stream(ctx, r, checksum.MD5, func(window []byte) error {
		return editor.TextDeltaChunk(path, window)
	})
	if err != nil {
		return "", n, fmt.Errorf("send delta %q: %w", path, err)
	}
	return sum, n, nil
}
