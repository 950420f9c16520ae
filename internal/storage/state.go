package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("not found")

// Key prefixes
const (
	prefixJobNext = "jn:" // jn:<job> -> next run time
	prefixJobLast = "jl:" // jl:<job> -> RunRecord
)

// RunRecord is the outcome of the most recent run of a job.
type RunRecord struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Manual    bool          `json:"manual"`
}

// StateStore keeps scheduler state in BadgerDB so schedules survive
// restarts.
type StateStore struct {
	db   *badger.DB
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// OpenStateStore opens (or creates) the state database under root.
func OpenStateStore(root string) (*StateStore, error) {
	opts := badger.DefaultOptions(filepath.Join(root, "state"))
	opts.Logger = nil // Disable badger logging
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	return openState(opts, true)
}

// OpenInMemoryStateStore opens a throwaway state database.
func OpenInMemoryStateStore() (*StateStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openState(opts, false)
}

func openState(opts badger.Options, gc bool) (*StateStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	s := &StateStore{db: db, stop: make(chan struct{}), done: make(chan struct{})}
	if gc {
		go s.runGC()
	} else {
		close(s.done)
	}
	return s, nil
}

// Close stops garbage collection, waits for a pass in progress and
// closes the database.
func (s *StateStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

// runGC periodically runs badger's value log garbage collection
func (s *StateStore) runGC() {
	defer close(s.done)
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
				select {
				case <-s.stop:
					return
				default:
				}
			}
		}
	}
}

// NextRun returns the stored next run time of a job.
func (s *StateStore) NextRun(job string) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixJobNext + job))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return t.UnmarshalBinary(v)
		})
	})
	return t, err
}

// SetNextRun stores the next run time of a job.
func (s *StateStore) SetNextRun(job string, next time.Time) error {
	data, err := next.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixJobNext+job), data)
	})
}

// EnsureNextRun stores next for a job only if the job has no next run
// yet, and returns whichever time is in effect. created reports whether
// next was stored.
func (s *StateStore) EnsureNextRun(job string, next time.Time) (effective time.Time, created bool, err error) {
	key := []byte(prefixJobNext + job)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			return item.Value(func(v []byte) error {
				return effective.UnmarshalBinary(v)
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := next.MarshalBinary()
		if err != nil {
			return err
		}
		effective, created = next, true
		return txn.Set(key, data)
	})
	return effective, created, err
}

// LastRun returns the record of the most recent run of a job.
func (s *StateStore) LastRun(job string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixJobLast + job))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetLastRun replaces the record of the most recent run of a job.
func (s *StateStore) SetLastRun(job string, rec RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixJobLast+job), data)
	})
}
