// Package store implements the external store: a content-addressable,
// append-only record log (store.jsonl) with a persistent index (index.json)
// and serialized write discipline.
//
// One writer per session. All disk mutation goes through the write queue;
// synchronous callers observe the in-memory state immediately and may Flush
// to wait for durability.
package store

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/rlm/internal/writeq"
	"github.com/haasonsaas/rlm/pkg/models"
)

const (
	// StoreFile is the append-only record log.
	StoreFile = "store.jsonl"
	// IndexFile is the full index, rewritten after each change.
	IndexFile = "index.json"
	// TrajectoryFile is the operational log written by the trajectory
	// collaborator in the same directory.
	TrajectoryFile = "trajectory.jsonl"
)

// ErrUnhealthy is returned by mutating operations after a failed initialize.
var ErrUnhealthy = errors.New("store: unhealthy, initialization failed")

// DirFor returns the on-disk session directory: <cwd>/.pi/rlm/<session-id>.
func DirFor(cwd, sessionID string) string {
	return filepath.Join(cwd, ".pi", "rlm", sessionID)
}

// Store is the per-session external store.
type Store struct {
	dir       string
	sessionID string
	queue     *writeq.Queue

	mu           sync.Mutex
	records      map[string]*models.Record
	index        models.StoreIndex
	entryPos     map[string]int    // record id → position in index.Entries
	externalized map[string]string // fingerprint → record id
	cursor       int64             // next append offset in store.jsonl
	healthy      bool
}

// New creates a store rooted at dir for the session. Initialize must be
// called before use.
func New(dir, sessionID string, queue *writeq.Queue) *Store {
	return &Store{
		dir:          dir,
		sessionID:    sessionID,
		queue:        queue,
		records:      make(map[string]*models.Record),
		entryPos:     make(map[string]int),
		externalized: make(map[string]string),
		index: models.StoreIndex{
			Version:   models.IndexVersion,
			SessionID: sessionID,
			Entries:   []models.IndexEntry{},
		},
	}
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// Healthy reports whether initialization succeeded.
func (s *Store) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Initialize creates the session directory, loads a compatible index.json if
// present, and replays store.jsonl into memory. Malformed log lines are
// skipped with a warning; a trailing torn write therefore cannot poison
// recovery. On failure the store stays unhealthy and every mutation returns
// ErrUnhealthy.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	loadedIndex := s.loadIndexLocked()

	path := filepath.Join(s.dir, StoreFile)
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No log means no records, whatever a stale index.json claims.
		s.index.Entries = []models.IndexEntry{}
		s.index.TotalTokens = 0
		s.entryPos = make(map[string]int)
		s.cursor = 0
		s.healthy = true
		return nil
	case err != nil:
		return fmt.Errorf("store: open log: %w", err)
	}
	defer f.Close()

	var offset int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 256<<20)
	lineNo := 0
	var scanned []models.IndexEntry
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // trailing newline

		var rec models.Record
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			slog.Warn("store: skipping malformed log line", "line", lineNo, "error", err)
			offset += lineLen
			continue
		}
		recCopy := rec
		s.records[rec.ID] = &recCopy
		scanned = append(scanned, models.IndexEntry{
			ID:            rec.ID,
			Type:          rec.Type,
			Description:   rec.Description,
			TokenEstimate: rec.TokenEstimate,
			CreatedAt:     rec.CreatedAt,
			Offset:        offset,
			Length:        lineLen,
		})
		offset += lineLen
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("store: scan log: %w", err)
	}

	// The log is the source of truth; a loaded index only survives when its
	// entry count matches the replay.
	if !loadedIndex || len(s.index.Entries) != len(scanned) {
		s.index.Entries = scanned
		if s.index.Entries == nil {
			s.index.Entries = []models.IndexEntry{}
		}
		s.index.TotalTokens = 0
		for _, e := range s.index.Entries {
			s.index.TotalTokens += e.TokenEstimate
		}
	}
	s.entryPos = make(map[string]int, len(s.index.Entries))
	for i, e := range s.index.Entries {
		s.entryPos[e.ID] = i
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store: stat log: %w", err)
	}
	s.cursor = info.Size()
	s.healthy = true
	s.rebuildExternalizedLocked()
	return nil
}

// loadIndexLocked reads index.json; returns true when a version-compatible
// index was installed.
func (s *Store) loadIndexLocked() bool {
	data, err := os.ReadFile(filepath.Join(s.dir, IndexFile))
	if err != nil {
		return false
	}
	var idx models.StoreIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		slog.Warn("store: discarding malformed index.json", "error", err)
		return false
	}
	if idx.Version != models.IndexVersion {
		slog.Warn("store: discarding incompatible index.json", "version", idx.Version, "want", models.IndexVersion)
		return false
	}
	s.index = idx
	if s.index.Entries == nil {
		s.index.Entries = []models.IndexEntry{}
	}
	return true
}

// mintID returns a fresh record id: the prefix plus 4 random bytes in hex.
func (s *Store) mintID() string {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a timestamp-derived id.
			return fmt.Sprintf("%s%08x", models.RecordIDPrefix, time.Now().UnixNano()&0xffffffff)
		}
		id := models.RecordIDPrefix + hex.EncodeToString(buf[:])
		if _, exists := s.records[id]; !exists {
			return id
		}
	}
}

// Add mints an id and timestamp for the record, inserts it into memory, and
// enqueues the durable append. The completed record is returned immediately
// for synchronous callers.
func (s *Store) Add(rec models.Record) (*models.Record, error) {
	s.mu.Lock()
	if !s.healthy {
		s.mu.Unlock()
		return nil, ErrUnhealthy
	}
	rec.ID = s.mintID()
	rec.CreatedAt = time.Now().UTC()
	stored := s.insertLocked(rec)
	s.mu.Unlock()

	// Enqueue outside the lock: the queue worker takes s.mu and a full task
	// channel would otherwise deadlock against it.
	s.scheduleWrite(stored.ID)
	return stored, nil
}

// scheduleWrite enqueues the durable append for a record id.
func (s *Store) scheduleWrite(id string) {
	s.queue.Enqueue("append "+id, func() error { return s.writeRecord(id) })
}

// insertLocked installs a fully-formed record without scheduling its write.
func (s *Store) insertLocked(rec models.Record) *models.Record {
	stored := rec
	s.records[stored.ID] = &stored

	entry := models.IndexEntry{
		ID:            stored.ID,
		Type:          stored.Type,
		Description:   stored.Description,
		TokenEstimate: stored.TokenEstimate,
		CreatedAt:     stored.CreatedAt,
		Offset:        -1,
		Length:        -1,
	}
	s.index.Entries = append(s.index.Entries, entry)
	s.entryPos[stored.ID] = len(s.index.Entries) - 1
	s.index.TotalTokens += stored.TokenEstimate

	if stored.Source.Kind == models.SourceExternalized && stored.Source.Fingerprint != "" {
		s.externalized[stored.Source.Fingerprint] = stored.ID
	}
	return &stored
}

// writeRecord runs on the write queue: append the record line, capture its
// offset and exact byte length, patch the index entry, rewrite index.json.
func (s *Store) writeRecord(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil // cleared before the write ran
	}
	recCopy := *rec
	s.mu.Unlock()

	line, err := json.Marshal(&recCopy)
	if err != nil {
		return fmt.Errorf("store: marshal record %s: %w", id, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(filepath.Join(s.dir, StoreFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open log for append: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("store: append record %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close log: %w", err)
	}

	s.mu.Lock()
	offset := s.cursor
	s.cursor += int64(len(line))
	if pos, ok := s.entryPos[id]; ok {
		s.index.Entries[pos].Offset = offset
		s.index.Entries[pos].Length = int64(len(line))
	}
	indexCopy := s.copyIndexLocked()
	s.mu.Unlock()

	return s.persistIndex(indexCopy)
}

// persistIndex rewrites index.json atomically (temp file + rename).
func (s *Store) persistIndex(idx models.StoreIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal index: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close index: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, IndexFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: install index: %w", err)
	}
	return nil
}

// Get returns the record by id.
func (s *Store) Get(id string) (*models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	recCopy := *rec
	return &recCopy, true
}

// GetIndexEntry returns the index entry for a record id.
func (s *Store) GetIndexEntry(id string) (models.IndexEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.entryPos[id]
	if !ok {
		return models.IndexEntry{}, false
	}
	return s.index.Entries[pos], true
}

// GetAllIDs returns record ids in insertion order.
func (s *Store) GetAllIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.index.Entries))
	for i, e := range s.index.Entries {
		ids[i] = e.ID
	}
	return ids
}

// GetFullIndex returns an independent copy of the index.
func (s *Store) GetFullIndex() models.StoreIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyIndexLocked()
}

func (s *Store) copyIndexLocked() models.StoreIndex {
	idx := s.index
	idx.Entries = make([]models.IndexEntry, len(s.index.Entries))
	copy(idx.Entries, s.index.Entries)
	return idx
}

// FindByIngestPath scans ingested records for an absolute path.
func (s *Store) FindByIngestPath(path string) (*models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.index.Entries {
		rec := s.records[e.ID]
		if rec != nil && rec.Source.Kind == models.SourceIngested && rec.Source.Path == path {
			recCopy := *rec
			return &recCopy, true
		}
	}
	return nil, false
}

// ExternalizedIDFor maps a message fingerprint to the record that already
// holds its content.
func (s *Store) ExternalizedIDFor(fingerprint string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.externalized[fingerprint]
	return id, ok
}

// RebuildExternalizedMap repopulates the fingerprint→id map from records, so
// externalization stays monotonic across process restarts.
func (s *Store) RebuildExternalizedMap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildExternalizedLocked()
}

func (s *Store) rebuildExternalizedLocked() {
	s.externalized = make(map[string]string)
	for _, e := range s.index.Entries {
		rec := s.records[e.ID]
		if rec != nil && rec.Source.Kind == models.SourceExternalized && rec.Source.Fingerprint != "" {
			s.externalized[rec.Source.Fingerprint] = rec.ID
		}
	}
}

// RecordCount returns the number of records.
func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index.Entries)
}

// TotalTokens returns the summed token estimates.
func (s *Store) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.TotalTokens
}

// StoreBytes returns the current byte length of the on-disk log.
func (s *Store) StoreBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Flush waits for all queued writes.
func (s *Store) Flush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

// Clear drops all in-memory state and deletes both files via the queue.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*models.Record)
	s.entryPos = make(map[string]int)
	s.externalized = make(map[string]string)
	s.index.Entries = []models.IndexEntry{}
	s.index.TotalTokens = 0
	s.cursor = 0
	s.mu.Unlock()

	s.queue.Enqueue("clear", func() error {
		var firstErr error
		for _, name := range []string{StoreFile, IndexFile} {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// MergeFrom imports every record from another session directory whose id is
// not already present. Each import appends through the queue, preserving the
// source record's id and timestamp.
func (s *Store) MergeFrom(otherDir string) (imported int, err error) {
	f, err := os.Open(filepath.Join(otherDir, StoreFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: open merge source: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 256<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var rec models.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.ID == "" {
			slog.Warn("store: merge skipping malformed line", "dir", otherDir, "line", lineNo, "error", err)
			continue
		}
		s.mu.Lock()
		if !s.healthy {
			s.mu.Unlock()
			return imported, ErrUnhealthy
		}
		if _, exists := s.records[rec.ID]; exists {
			s.mu.Unlock()
			continue
		}
		stored := s.insertLocked(rec)
		s.mu.Unlock()
		s.scheduleWrite(stored.ID)
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("store: scan merge source: %w", err)
	}
	return imported, nil
}
