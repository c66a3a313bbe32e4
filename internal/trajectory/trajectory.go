// Package trajectory appends operational records to trajectory.jsonl in the
// session directory: externalization passes, child calls, searches, ingests.
// Writes ride the same single-writer queue as the store.
package trajectory

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/rlm/internal/writeq"
)

// Record is one trajectory line.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Data      any       `json:"data,omitempty"`
}

// Writer appends trajectory records. Failures are logged, never propagated:
// the trajectory is advisory.
type Writer struct {
	path  string
	queue *writeq.Queue
}

// New creates a writer for the session directory.
func New(dir string, queue *writeq.Queue) *Writer {
	return &Writer{path: filepath.Join(dir, "trajectory.jsonl"), queue: queue}
}

// Append enqueues one record.
func (w *Writer) Append(kind string, data any) {
	rec := Record{Timestamp: time.Now().UTC(), Kind: kind, Data: data}
	line, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("trajectory: marshal failed", "kind", kind, "error", err)
		return
	}
	line = append(line, '\n')
	w.queue.Enqueue("trajectory "+kind, func() error {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(line)
		return err
	})
}
