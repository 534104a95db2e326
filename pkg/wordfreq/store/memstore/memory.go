package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Store is an in-memory implementation of store.Store for tests and dry runs.
type Store struct {
	mu          sync.RWMutex
	freq        map[string]int64
	checkpoints map[string]store.Checkpoint
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.Checkpointer = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		freq:        make(map[string]int64),
		checkpoints: make(map[string]store.Checkpoint),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// IncrementMany adds every count in delta.
func (s *Store) IncrementMany(ctx context.Context, delta aggregate.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(delta)
	return nil
}

func (s *Store) add(delta aggregate.Delta) {
	for lemma, n := range delta {
		s.freq[lemma] += n
	}
}

// Get returns the frequency of lemma, 0 when absent.
func (s *Store) Get(ctx context.Context, lemma string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freq[lemma], nil
}

// Len returns the number of distinct lemmas.
func (s *Store) Len(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.freq)), nil
}

// Sorted implements store.Store. It iterates over a snapshot, so fn may call
// back into the store.
func (s *Store) Sorted(ctx context.Context, fn func(store.Entry) error) error {
	s.mu.RLock()
	entries := make([]store.Entry, 0, len(s.freq))
	for lemma, n := range s.freq {
		entries = append(entries, store.Entry{Lemma: lemma, Freq: n})
	}
	s.mu.RUnlock()

	store.SortEntries(entries)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// LastCheckpoint implements store.Checkpointer.
func (s *Store) LastCheckpoint(ctx context.Context, key string) (store.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[key]
	return cp, ok, nil
}

// ApplyChunk implements store.Checkpointer.
func (s *Store) ApplyChunk(ctx context.Context, cp store.Checkpoint, delta aggregate.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(delta)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.checkpoints[cp.Key] = cp
	return nil
}
