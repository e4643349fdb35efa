// Package audit records limit-exceeded events as an append-only JSONL trail.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event is one denied request.
type Event struct {
	Time     time.Time `json:"time"`
	Category string    `json:"category"`
	Key      string    `json:"key"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	Limit    int       `json:"limit"`
}

// Trail appends events to a writer, one JSON object per line. Safe for
// concurrent use; buffered until Close.
type Trail struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	count  int
}

// NewWriter creates a trail over an arbitrary writer. The caller keeps
// ownership of w; Close only flushes.
func NewWriter(w io.Writer) *Trail {
	return &Trail{w: bufio.NewWriter(w)}
}

// Open creates or appends to the trail file at path.
func Open(path string) (*Trail, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	return &Trail{w: bufio.NewWriter(f), closer: f}, nil
}

// Record appends one event.
func (t *Trail) Record(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	t.count++
	return nil
}

// Count returns the number of events recorded through this trail.
func (t *Trail) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Close flushes buffered events and releases the underlying file, if any.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	flushErr := t.w.Flush()
	if t.closer != nil {
		if err := t.closer.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}
