// Package journal appends rejected records to msgpack dead-letter files so
// they can be inspected or replayed after a run.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// RejectRecord captures one record the normalizer refused.
type RejectRecord struct {
	Timestamp time.Time      `msgpack:"timestamp"`
	RunID     string         `msgpack:"run_id"`
	Kind      string         `msgpack:"kind"`
	Symbol    string         `msgpack:"symbol,omitempty"`
	PageToken string         `msgpack:"page_token,omitempty"`
	Index     int            `msgpack:"index"`
	Field     string         `msgpack:"field,omitempty"`
	Reason    string         `msgpack:"reason"`
	Record    map[string]any `msgpack:"record,omitempty"`
}

// Writer appends records for a single run to one file. Safe for concurrent
// use.
type Writer struct {
	dir   string
	runID string
	nowFn func() time.Time

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *msgpack.Encoder
	path string
	n    int
}

// NewWriter prepares a writer under dir; the file is created on first write.
func NewWriter(dir, runID string) (*Writer, error) {
	if dir == "" {
		dir = "deadletter"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", dir, err)
	}
	return &Writer{dir: dir, runID: runID, nowFn: time.Now}, nil
}

// Write appends rec, stamping the run id and time when unset.
func (w *Writer) Write(rec RejectRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn().UTC()
	}
	if rec.RunID == "" {
		rec.RunID = w.runID
	}
	if w.enc == nil {
		if err := w.openLocked(rec.Timestamp); err != nil {
			return err
		}
	}
	if err := w.enc.Encode(&rec); err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	w.n++
	return nil
}

func (w *Writer) openLocked(ts time.Time) error {
	name := fmt.Sprintf("rejects_%s_%s.msgpack", ts.UTC().Format("20060102_150405"), w.runID)
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.enc = msgpack.NewEncoder(w.buf)
	w.path = path
	return nil
}

// Path returns the file written so far; empty until the first record.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Count returns how many records were written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file, w.buf, w.enc = nil, nil, nil
	return errors.Join(flushErr, closeErr)
}

// ReadAll decodes every record in a dead-letter file.
func ReadAll(path string) ([]RejectRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))
	var out []RejectRecord
	for {
		var rec RejectRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("journal: decode %s: %w", path, err)
		}
		out = append(out, rec)
	}
}
