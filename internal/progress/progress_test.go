package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
)

func event(t EventType, name string, n int64) Event {
	return Event{
		Type:     t,
		Request:  RequestPut,
		Resource: domain.Resource{Name: name, ContentLength: 100},
		Bytes:    n,
	}
}

// TestCallbackListener_Forwards tests that events reach the callback unchanged
func TestCallbackListener_Forwards(t *testing.T) {
	var got []Event
	listener := NewCallbackListener(func(ev Event) {
		got = append(got, ev)
	})

	listener.TransferEvent(event(EventInitiated, "a.txt", 0))
	listener.TransferEvent(event(EventStarted, "a.txt", 0))
	listener.TransferEvent(event(EventCompleted, "a.txt", 100))

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != EventInitiated || got[2].Type != EventCompleted {
		t.Errorf("unexpected event order: %v, %v", got[0].Type, got[2].Type)
	}
	if got[2].Resource.Name != "a.txt" {
		t.Errorf("expected resource 'a.txt', got '%s'", got[2].Resource.Name)
	}
}

// TestCallbackListener_SpeedCalculation tests speed on progress events
func TestCallbackListener_SpeedCalculation(t *testing.T) {
	var last Event
	listener := NewCallbackListener(func(ev Event) {
		last = ev
	})

	listener.TransferEvent(event(EventStarted, "a.txt", 0))
	time.Sleep(5 * time.Millisecond)
	listener.TransferEvent(event(EventProgress, "a.txt", 50))

	if last.BytesPerSecond == 0 {
		t.Error("expected non-zero bytes per second")
	}

	// Progress without a start has no speed
	listener.TransferEvent(event(EventProgress, "other.txt", 50))
	if last.BytesPerSecond != 0 {
		t.Errorf("expected zero speed, got %f", last.BytesPerSecond)
	}
}

// TestCallbackListener_Concurrent tests thread safety
func TestCallbackListener_Concurrent(t *testing.T) {
	var count int
	var mu sync.Mutex
	listener := NewCallbackListener(func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				listener.TransferEvent(event(EventStarted, "f", 0))
				listener.TransferEvent(event(EventProgress, "f", int64(j)))
				listener.TransferEvent(event(EventCompleted, "f", 100))
			}
		}()
	}
	wg.Wait()

	if count != 3000 {
		t.Errorf("expected 3000 events, got %d", count)
	}
}

// TestSecurity_CallbackDeadlock tests that a callback may re-enter the listener
func TestSecurity_CallbackDeadlock(t *testing.T) {
	var listener *CallbackListener
	reentered := false
	listener = NewCallbackListener(func(ev Event) {
		if ev.Type == EventStarted {
			reentered = true
			listener.TransferEvent(event(EventProgress, ev.Resource.Name, 1))
		}
	})

	done := make(chan struct{})
	go func() {
		listener.TransferEvent(event(EventStarted, "a.txt", 0))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock detected: callback re-entering listener")
	}
	if !reentered {
		t.Error("expected callback to run")
	}
}

// TestMulti tests fan-out and nil listeners
func TestMulti(t *testing.T) {
	a := &Tally{}
	b := &Tally{}
	m := Multi{a, nil, b}

	m.TransferEvent(event(EventCompleted, "a.txt", 10))

	if a.Files != 1 || b.Files != 1 {
		t.Errorf("expected both tallies to count, got %d and %d", a.Files, b.Files)
	}
}

// TestTally tests counters
func TestTally(t *testing.T) {
	tally := &Tally{}
	tally.TransferEvent(event(EventStarted, "a", 0))
	tally.TransferEvent(event(EventCompleted, "a", 10))
	tally.TransferEvent(event(EventCompleted, "b", 20))
	failure := errors.New("boom")
	tally.TransferEvent(Event{Type: EventError, Error: failure})

	files, n, failures := tally.Snapshot()
	if files != 2 || n != 30 || failures != 1 {
		t.Errorf("unexpected snapshot: files=%d bytes=%d failures=%d", files, n, failures)
	}
	if tally.LastError != failure {
		t.Errorf("expected last error to be recorded")
	}
}

// TestProgressReader tests read progress tracking
func TestProgressReader(t *testing.T) {
	data := strings.Repeat("x", 1000)
	var updates []int64

	pr := NewProgressReader(strings.NewReader(data), func(n int64) {
		updates = append(updates, n)
	})

	buf := make([]byte, 100)
	total := 0
	for {
		n, err := pr.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if total != 1000 {
		t.Errorf("expected 1000 bytes read, got %d", total)
	}
	if len(updates) == 0 || updates[len(updates)-1] != 1000 {
		t.Errorf("expected final update of 1000, got %v", updates)
	}
	if pr.Transferred() != 1000 {
		t.Errorf("expected Transferred 1000, got %d", pr.Transferred())
	}
}

// TestProgressWriter tests write progress tracking
func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	var last int64

	pw := NewProgressWriter(&buf, func(n int64) { last = n })

	for i := 0; i < 10; i++ {
		if _, err := pw.Write([]byte(strings.Repeat("y", 50))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if buf.Len() != 500 {
		t.Errorf("expected 500 bytes written, got %d", buf.Len())
	}
	if last != 500 {
		t.Errorf("expected final update of 500, got %d", last)
	}

	// nil notify is allowed
	quiet := NewProgressWriter(io.Discard, nil)
	if _, err := quiet.Write([]byte("z")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestFormatBytes tests byte formatting
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

// TestFormatSpeed tests speed formatting
func TestFormatSpeed(t *testing.T) {
	result := FormatSpeed(1024 * 1024)
	if result != "1.0 MB/s" {
		t.Errorf("expected '1.0 MB/s', got '%s'", result)
	}
}

// TestTypeStrings tests enum names
func TestTypeStrings(t *testing.T) {
	if RequestPut.String() != "put" || RequestGet.String() != "get" {
		t.Error("unexpected request type names")
	}
	if EventCompleted.String() != "completed" || EventType(99).String() != "unknown" {
		t.Error("unexpected event type names")
	}
}

// TestNullListener tests that NullListener doesn't panic
func TestNullListener(t *testing.T) {
	var l Listener = NullListener{}
	l.TransferEvent(event(EventError, "a", 0))
}
