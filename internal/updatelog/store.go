package updatelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mordilloSan/go-logger/logger"
)

// FileName is the name of the persisted log inside the logs directory.
const FileName = "auto_updated_items.json"

// ErrCorrupt is returned when the persisted document cannot be decoded.
var ErrCorrupt = errors.New("update log is corrupt")

// Options tunes a Store.
type Options struct {
	// MaxEntries caps the number of records kept. When an append would
	// exceed it the oldest records are dropped. Zero means unbounded.
	MaxEntries int
}

// Store is the file-backed log of update events awaiting report.
// All access to the file goes through mu.
type Store struct {
	dir        string
	path       string
	maxEntries int
	now        func() time.Time
	mu         sync.Mutex
}

// NewStore creates a store that keeps its document in dir. Nothing is
// created on disk until the first Append.
func NewStore(dir string, opts Options) *Store {
	return &Store{
		dir:        dir,
		path:       filepath.Join(dir, FileName),
		maxEntries: opts.MaxEntries,
		now:        time.Now,
	}
}

// Path returns the location of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the persisted document is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Append adds ev to the end of the log.
func (s *Store) Append(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}

	events, err := s.load()
	if errors.Is(err, ErrCorrupt) {
		logger.Errorf("update log %s: %v", s.path, err)
		if qerr := s.quarantine(); qerr != nil {
			return qerr
		}
		events = nil
	} else if err != nil {
		return err
	}

	events = append(events, ev)
	if s.maxEntries > 0 && len(events) > s.maxEntries {
		dropped := len(events) - s.maxEntries
		logger.Warnf("update log exceeds %d entries, dropping %d oldest", s.maxEntries, dropped)
		events = events[dropped:]
	}

	return s.write(events)
}

// ReadAll returns every record in insertion order. A missing document is
// an empty log.
func (s *Store) ReadAll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Discard removes the records of a report that has just been delivered.
// reported is the slice ReadAll returned for that report. Only the head of
// the current log that matches the tail of reported is removed, so records
// appended since the read survive even when the max entries bound dropped
// some of the reported ones in the meantime. When nothing remains the log
// is cleared.
func (s *Store) Discard(reported []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.load()
	if err != nil {
		return err
	}
	n := reportedPrefix(events, reported)
	if n >= len(events) {
		return s.clear()
	}
	if n == 0 {
		return nil
	}
	return s.write(events[n:])
}

// reportedPrefix returns the length of the longest head of current that
// equals the tail of reported.
func reportedPrefix(current, reported []Event) int {
	k := min(len(current), len(reported))
	for ; k > 0; k-- {
		if sameEvents(current[:k], reported[len(reported)-k:]) {
			return k
		}
	}
	return 0
}

func sameEvents(a, b []Event) bool {
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Clear removes the document and, once empty, the logs directory.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

func (s *Store) clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing update log: %w", err)
	}
	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
		// The directory may hold other files, e.g. quarantined logs.
		logger.Debugf("keeping logs directory %s: %v", s.dir, err)
	}
	return nil
}

func (s *Store) load() ([]Event, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading update log: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Updated == nil {
		return nil, fmt.Errorf("%w: missing \"updated\" list", ErrCorrupt)
	}
	return *doc.Updated, nil
}

// write replaces the document with events via a temp file and rename.
func (s *Store) write(events []Event) error {
	if events == nil {
		events = []Event{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(document{Updated: &events}); err != nil {
		return fmt.Errorf("encoding update log: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".auto_updated_items-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath) // no-op after a successful rename
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing update log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing update log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting update log permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming update log: %w", err)
	}
	return nil
}

// quarantine moves an undecodable document aside so it can be inspected.
func (s *Store) quarantine() error {
	dst := s.path + ".corrupt-" + strconv.FormatInt(s.now().Unix(), 10)
	if err := os.Rename(s.path, dst); err != nil {
		return fmt.Errorf("quarantining corrupt update log: %w", err)
	}
	logger.Warnf("moved corrupt update log to %s, starting empty", dst)
	return nil
}
