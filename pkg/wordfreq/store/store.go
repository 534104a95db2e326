// Package store defines the durable lemma frequency counter and its export
// format. Backends live in the subpackages.
package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
)

// Store is a keyed counter of lemma frequencies.
//
// Frequencies only ever grow: IncrementMany adds each delta count to the
// stored value (inserting missing lemmas), atomically per call. Applying the
// same delta twice counts it twice.
type Store interface {
	Close() error

	IncrementMany(ctx context.Context, delta aggregate.Delta) error
	Get(ctx context.Context, lemma string) (int64, error)
	Len(ctx context.Context) (int64, error)

	// Sorted calls fn for every entry ordered by frequency descending, ties
	// broken by lemma ascending in byte order. A non-nil error from fn stops
	// the iteration and is returned.
	Sorted(ctx context.Context, fn func(Entry) error) error
}

// Entry is one exported row.
type Entry struct {
	Lemma string
	Freq  int64
}

// Checkpoint records the last chunk sequence number committed for a run key.
type Checkpoint struct {
	Key       string
	Seq       int64
	RunID     string
	UpdatedAt time.Time
}

// Checkpointer is implemented by stores that can commit a chunk's counts and
// its checkpoint atomically, which makes a resumed run skip chunks that were
// already applied.
type Checkpointer interface {
	LastCheckpoint(ctx context.Context, key string) (Checkpoint, bool, error)
	ApplyChunk(ctx context.Context, cp Checkpoint, delta aggregate.Delta) error
}

// SortEntries orders entries the way Sorted must deliver them.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Freq != entries[j].Freq {
			return entries[i].Freq > entries[j].Freq
		}
		return entries[i].Lemma < entries[j].Lemma
	})
}

// ExportSorted writes every entry of s to w as two-column CSV rows
// (lemma, frequency) in Sorted order, without a header. An empty store
// produces no output.
func ExportSorted(ctx context.Context, s Store, w io.Writer) error {
	cw := csv.NewWriter(w)
	err := s.Sorted(ctx, func(e Entry) error {
		return cw.Write([]string{e.Lemma, strconv.FormatInt(e.Freq, 10)})
	})
	if err != nil {
		return fmt.Errorf("export rows: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ExportFile writes the export to path, replacing it atomically.
func ExportFile(ctx context.Context, s Store, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".wordfreq-export-*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return fmt.Errorf("chmod export file: %w", err)
	}

	if err := ExportSorted(ctx, s, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename export file: %w", err)
	}
	return nil
}
