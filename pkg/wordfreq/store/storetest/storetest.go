// Package storetest holds the behaviour every store.Store backend must share.
// Backend test files call Run with a factory for a fresh, empty store.
package storetest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Factory returns an empty store. The test closes it.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("IncrementAccumulates", func(t *testing.T) { testIncrementAccumulates(t, newStore) })
	t.Run("DuplicateDeltaDoubles", func(t *testing.T) { testDuplicateDeltaDoubles(t, newStore) })
	t.Run("ExportSortedByFrequency", func(t *testing.T) { testExportSorted(t, newStore) })
	t.Run("ExportTieBreak", func(t *testing.T) { testExportTieBreak(t, newStore) })
	t.Run("ExportEmpty", func(t *testing.T) { testExportEmpty(t, newStore) })
	t.Run("EmptyDelta", func(t *testing.T) { testEmptyDelta(t, newStore) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore) })
	t.Run("SortedStopsOnError", func(t *testing.T) { testSortedStopsOnError(t, newStore) })
	t.Run("Checkpoint", func(t *testing.T) { testCheckpoint(t, newStore) })
}

func open(t *testing.T, newStore Factory) store.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustIncrement(t *testing.T, s store.Store, d aggregate.Delta) {
	t.Helper()
	if err := s.IncrementMany(context.Background(), d); err != nil {
		t.Fatalf("IncrementMany(%v): %v", d, err)
	}
}

func mustGet(t *testing.T, s store.Store, lemma string) int64 {
	t.Helper()
	n, err := s.Get(context.Background(), lemma)
	if err != nil {
		t.Fatalf("Get(%q): %v", lemma, err)
	}
	return n
}

// ExportRows runs store.ExportSorted and parses the CSV back into rows.
func ExportRows(t *testing.T, s store.Store) [][]string {
	t.Helper()
	var buf bytes.Buffer
	if err := store.ExportSorted(context.Background(), s, &buf); err != nil {
		t.Fatalf("ExportSorted: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	return rows
}

func testIncrementAccumulates(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	mustIncrement(t, s, aggregate.Delta{"a": 2})
	mustIncrement(t, s, aggregate.Delta{"a": 3, "b": 1})

	if got := mustGet(t, s, "a"); got != 5 {
		t.Errorf("freq(a) = %d, want 5", got)
	}
	if got := mustGet(t, s, "b"); got != 1 {
		t.Errorf("freq(b) = %d, want 1", got)
	}
	if got := mustGet(t, s, "missing"); got != 0 {
		t.Errorf("freq(missing) = %d, want 0", got)
	}
	n, err := s.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func testDuplicateDeltaDoubles(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	d := aggregate.Delta{"hello": 3, "world": 1}
	mustIncrement(t, s, d)
	mustIncrement(t, s, d)

	if got := mustGet(t, s, "hello"); got != 6 {
		t.Errorf("freq(hello) = %d, want 6", got)
	}
	if got := mustGet(t, s, "world"); got != 2 {
		t.Errorf("freq(world) = %d, want 2", got)
	}
}

func testExportSorted(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	mustIncrement(t, s, aggregate.Delta{"apple": 10, "banana": 25, "cherry": 5, "date": 15})

	want := [][]string{{"banana", "25"}, {"date", "15"}, {"apple", "10"}, {"cherry", "5"}}
	assertRows(t, ExportRows(t, s), want)
}

func testExportTieBreak(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	mustIncrement(t, s, aggregate.Delta{"world": 2, "hello": 2, "zebra": 7, "Apple": 2})

	want := [][]string{{"zebra", "7"}, {"Apple", "2"}, {"hello", "2"}, {"world", "2"}}
	assertRows(t, ExportRows(t, s), want)
}

func testExportEmpty(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	var buf bytes.Buffer
	if err := store.ExportSorted(context.Background(), s, &buf); err != nil {
		t.Fatalf("ExportSorted: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("empty store exported %q", buf.String())
	}
}

func testEmptyDelta(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	mustIncrement(t, s, aggregate.Delta{})
	mustIncrement(t, s, nil)
	n, err := s.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("Len = %d after empty deltas, want 0", n)
	}
}

func testConcurrentIncrements(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	const writers, rounds = 4, 25

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if err := s.IncrementMany(context.Background(), aggregate.Delta{"shared": 1, "other": 2}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent IncrementMany: %v", err)
	}

	if got := mustGet(t, s, "shared"); got != writers*rounds {
		t.Errorf("freq(shared) = %d, want %d", got, writers*rounds)
	}
	if got := mustGet(t, s, "other"); got != 2*writers*rounds {
		t.Errorf("freq(other) = %d, want %d", got, 2*writers*rounds)
	}
}

func testSortedStopsOnError(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	mustIncrement(t, s, aggregate.Delta{"a": 3, "b": 2, "c": 1})

	stop := errors.New("stop")
	var seen int
	err := s.Sorted(context.Background(), func(store.Entry) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Sorted error = %v, want callback error", err)
	}
	if seen != 1 {
		t.Errorf("callback called %d times, want 1", seen)
	}
}

func testCheckpoint(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	cps, ok := s.(store.Checkpointer)
	if !ok {
		t.Skip("store does not implement store.Checkpointer")
	}
	ctx := context.Background()

	if _, found, err := cps.LastCheckpoint(ctx, "run-a"); err != nil || found {
		t.Fatalf("LastCheckpoint on fresh store = found %v, err %v", found, err)
	}

	if err := cps.ApplyChunk(ctx, store.Checkpoint{Key: "run-a", Seq: 0, RunID: "r1"}, aggregate.Delta{"sky": 2}); err != nil {
		t.Fatalf("ApplyChunk: %v", err)
	}
	if err := cps.ApplyChunk(ctx, store.Checkpoint{Key: "run-a", Seq: 1, RunID: "r1"}, aggregate.Delta{"sky": 1, "sea": 1}); err != nil {
		t.Fatalf("ApplyChunk: %v", err)
	}

	cp, found, err := cps.LastCheckpoint(ctx, "run-a")
	if err != nil || !found {
		t.Fatalf("LastCheckpoint = found %v, err %v", found, err)
	}
	if cp.Seq != 1 || cp.RunID != "r1" {
		t.Errorf("checkpoint = %+v, want seq 1 run r1", cp)
	}
	if _, found, _ := cps.LastCheckpoint(ctx, "run-b"); found {
		t.Error("checkpoints must be scoped by key")
	}
	if got := mustGet(t, s, "sky"); got != 3 {
		t.Errorf("freq(sky) = %d, want 3", got)
	}
}

func assertRows(t *testing.T, got, want [][]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != 2 || got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Fatalf("row %d = %v, want %v (all rows %v)", i, got[i], want[i], got)
		}
	}
}
