package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
)

// RequestType tells whether a transfer moves content from or to the store
type RequestType int

const (
	RequestGet RequestType = iota
	RequestPut
)

// String returns the string representation of the request type
func (r RequestType) String() string {
	if r == RequestPut {
		return "put"
	}
	return "get"
}

// EventType indicates the lifecycle step of a transfer
type EventType int

const (
	EventInitiated EventType = iota
	EventStarted
	EventProgress
	EventCompleted
	EventError
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventInitiated:
		return "initiated"
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one transfer lifecycle notification
type Event struct {
	Type    EventType
	Request RequestType

	// Resource is a snapshot of the transferred resource
	Resource domain.Resource

	// LocalPath is the local side of the transfer
	LocalPath string

	// Bytes transferred so far (EventProgress, EventCompleted)
	Bytes int64

	// BytesPerSecond since EventStarted (EventProgress)
	BytesPerSecond float64

	Error error
}

// Listener receives transfer events
type Listener interface {
	TransferEvent(ev Event)
}

// Callback is a function that receives transfer events
type Callback func(ev Event)

// CallbackListener implements Listener with a callback function.
// It fills in transfer speed for progress events.
type CallbackListener struct {
	callback Callback
	mu       sync.Mutex
	started  map[string]time.Time
}

// NewCallbackListener creates a new CallbackListener
func NewCallbackListener(callback Callback) *CallbackListener {
	return &CallbackListener{
		callback: callback,
		started:  make(map[string]time.Time),
	}
}

// TransferEvent implements Listener
func (l *CallbackListener) TransferEvent(ev Event) {
	key := ev.Request.String() + ":" + ev.Resource.Name

	l.mu.Lock()
	switch ev.Type {
	case EventStarted:
		l.started[key] = time.Now()
	case EventProgress:
		if start, ok := l.started[key]; ok {
			if elapsed := time.Since(start).Seconds(); elapsed > 0 {
				ev.BytesPerSecond = float64(ev.Bytes) / elapsed
			}
		}
	case EventCompleted, EventError:
		delete(l.started, key)
	}
	callback := l.callback
	l.mu.Unlock()

	// Call callback outside lock to prevent deadlock
	if callback != nil {
		callback(ev)
	}
}

// Multi fans events out to several listeners
type Multi []Listener

// TransferEvent implements Listener
func (m Multi) TransferEvent(ev Event) {
	for _, l := range m {
		if l != nil {
			l.TransferEvent(ev)
		}
	}
}

// Tally counts completed transfers and bytes
type Tally struct {
	mu        sync.Mutex
	Files     int
	Bytes     int64
	Failures  int
	LastError error
}

// TransferEvent implements Listener
func (t *Tally) TransferEvent(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case EventCompleted:
		t.Files++
		t.Bytes += ev.Bytes
	case EventError:
		t.Failures++
		t.LastError = ev.Error
	}
}

// Snapshot returns the current counters
func (t *Tally) Snapshot() (files int, bytes int64, failures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Files, t.Bytes, t.Failures
}

// ProgressReader wraps an io.Reader to track read progress
type ProgressReader struct {
	reader      io.Reader
	notify      func(transferred int64)
	transferred int64
}

// NewProgressReader creates a new progress-tracking reader
func NewProgressReader(r io.Reader, notify func(transferred int64)) *ProgressReader {
	return &ProgressReader{
		reader: r,
		notify: notify,
	}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		if pr.notify != nil {
			pr.notify(pr.transferred)
		}
	}
	return n, err
}

// Transferred returns the number of bytes read so far
func (pr *ProgressReader) Transferred() int64 {
	return pr.transferred
}

// ProgressWriter wraps an io.Writer to track write progress
type ProgressWriter struct {
	writer      io.Writer
	notify      func(transferred int64)
	transferred int64
}

// NewProgressWriter creates a new progress-tracking writer
func NewProgressWriter(w io.Writer, notify func(transferred int64)) *ProgressWriter {
	return &ProgressWriter{
		writer: w,
		notify: notify,
	}
}

// Write implements io.Writer
func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.transferred += int64(n)
		if pw.notify != nil {
			pw.notify(pw.transferred)
		}
	}
	return n, err
}

// Transferred returns the number of bytes written so far
func (pw *ProgressWriter) Transferred() int64 {
	return pw.transferred
}

// NullListener is a no-op listener
type NullListener struct{}

func (NullListener) TransferEvent(ev Event) {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}
