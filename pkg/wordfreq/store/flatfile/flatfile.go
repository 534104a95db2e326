// Package flatfile keeps lemma counts in a two-column CSV file that is read
// fully at open and rewritten wholesale after every update. It trades memory
// and write amplification for a store that is its own export.
package flatfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Store implements store.Store and store.Checkpointer on a flat file.
//
// Checkpoints live in a YAML sidecar next to the counts file. The counts file
// is renamed into place before the sidecar, so a crash between the two
// replays at most the last chunk.
type Store struct {
	path   string
	logger *slog.Logger

	mu          sync.RWMutex
	freq        map[string]int64
	checkpoints map[string]checkpointRecord
}

type checkpointRecord struct {
	Seq       int64     `yaml:"seq"`
	RunID     string    `yaml:"runId"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

type sidecar struct {
	Checkpoints map[string]checkpointRecord `yaml:"checkpoints"`
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.Checkpointer = (*Store)(nil)
)

// Open loads path if it exists. Rows with the wrong number of columns, an
// empty lemma, or a frequency that is not a non-negative integer are logged
// and skipped.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:        path,
		logger:      logging.Component(logger, "flatfile"),
		freq:        make(map[string]int64),
		checkpoints: make(map[string]checkpointRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.loadCheckpoints(); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckpointPath returns the sidecar file holding checkpoints for path.
func CheckpointPath(path string) string {
	return path + ".checkpoint.yaml"
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open counts file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	line := 0
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.logger.Warn("skip malformed row", "line", perr.Line, "err", perr.Err)
				skipped++
				continue
			}
			return fmt.Errorf("read counts file: %w", err)
		}
		if len(rec) != 2 || rec[0] == "" {
			s.logger.Warn("skip malformed row", "line", line, "columns", len(rec))
			skipped++
			continue
		}
		n, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil || n < 0 {
			s.logger.Warn("skip malformed row", "line", line, "lemma", rec[0], "freq", rec[1])
			skipped++
			continue
		}
		s.freq[rec[0]] += n
	}

	s.logger.Debug("loaded counts", "path", s.path, "lemmas", len(s.freq), "skipped", skipped)
	return nil
}

func (s *Store) loadCheckpoints() error {
	data, err := os.ReadFile(CheckpointPath(s.path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint file: %w", err)
	}
	var sc sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("parse checkpoint file: %w", err)
	}
	for k, v := range sc.Checkpoints {
		s.checkpoints[k] = v
	}
	return nil
}

// Path returns the counts file path.
func (s *Store) Path() string { return s.path }

// Close implements store.Store. Every update is already on disk.
func (s *Store) Close() error { return nil }

// IncrementMany merges delta and rewrites the file. On a write failure the
// in-memory counts are rolled back.
func (s *Store) IncrementMany(ctx context.Context, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, delta)
}

func (s *Store) applyLocked(ctx context.Context, delta aggregate.Delta) error {
	var added []string
	for lemma, n := range delta {
		if _, ok := s.freq[lemma]; !ok {
			added = append(added, lemma)
		}
		s.freq[lemma] += n
	}
	if err := s.rewriteLocked(ctx); err != nil {
		for lemma, n := range delta {
			s.freq[lemma] -= n
		}
		for _, lemma := range added {
			delete(s.freq, lemma)
		}
		return err
	}
	return nil
}

func (s *Store) rewriteLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		for _, e := range s.entriesLocked() {
			if err := cw.Write([]string{e.Lemma, strconv.FormatInt(e.Freq, 10)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func (s *Store) entriesLocked() []store.Entry {
	entries := make([]store.Entry, 0, len(s.freq))
	for lemma, n := range s.freq {
		entries = append(entries, store.Entry{Lemma: lemma, Freq: n})
	}
	store.SortEntries(entries)
	return entries
}

// writeAtomic writes through a temp file in the same directory and renames it.
func writeAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".wordfreq-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
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

// Sorted implements store.Store over a snapshot.
func (s *Store) Sorted(ctx context.Context, fn func(store.Entry) error) error {
	s.mu.RLock()
	entries := s.entriesLocked()
	s.mu.RUnlock()

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
	rec, ok := s.checkpoints[key]
	if !ok {
		return store.Checkpoint{}, false, nil
	}
	return store.Checkpoint{Key: key, Seq: rec.Seq, RunID: rec.RunID, UpdatedAt: rec.UpdatedAt}, true, nil
}

// ApplyChunk merges delta, rewrites the counts file and then the sidecar.
func (s *Store) ApplyChunk(ctx context.Context, cp store.Checkpoint, delta aggregate.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(delta) > 0 {
		if err := s.applyLocked(ctx, delta); err != nil {
			return err
		}
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	prev, had := s.checkpoints[cp.Key]
	s.checkpoints[cp.Key] = checkpointRecord{Seq: cp.Seq, RunID: cp.RunID, UpdatedAt: cp.UpdatedAt}

	data, err := yaml.Marshal(sidecar{Checkpoints: s.checkpoints})
	if err == nil {
		err = writeAtomic(CheckpointPath(s.path), func(w io.Writer) error {
			_, werr := w.Write(data)
			return werr
		})
	}
	if err != nil {
		if had {
			s.checkpoints[cp.Key] = prev
		} else {
			delete(s.checkpoints, cp.Key)
		}
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
