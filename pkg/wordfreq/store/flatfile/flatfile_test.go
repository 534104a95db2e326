package flatfile

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := Open(filepath.Join(t.TempDir(), "counts.csv"), logging.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return st
	})
}

func TestOpenSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.csv")
	content := "apple,3\n" +
		"lonely\n" +
		"pear,many\n" +
		"plum,-2\n" +
		"kiwi,4,extra\n" +
		",9\n" +
		"fig,1\n" +
		"apple,2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	st, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if n, _ := st.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	if n, _ := st.Get(ctx, "apple"); n != 5 {
		t.Errorf("apple = %d, want 5", n)
	}
	if n, _ := st.Get(ctx, "fig"); n != 1 {
		t.Errorf("fig = %d, want 1", n)
	}
	if got := strings.Count(logs.String(), "skip malformed row"); got != 5 {
		t.Errorf("logged %d warnings, want 5:\n%s", got, logs.String())
	}
}

func TestIncrementRewritesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counts.csv")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.IncrementMany(ctx, aggregate.Delta{"apple": 10, "banana": 25}); err != nil {
		t.Fatalf("IncrementMany: %v", err)
	}
	if err := st.IncrementMany(ctx, aggregate.Delta{"apple": 20}); err != nil {
		t.Fatalf("IncrementMany: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "apple,30\nbanana,25\n"; string(data) != want {
		t.Fatalf("file = %q, want %q", data, want)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, _ := reopened.Get(ctx, "apple"); n != 30 {
		t.Errorf("apple after reopen = %d, want 30", n)
	}
}

func TestCheckpointSidecar(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counts.csv")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cp := store.Checkpoint{Key: "run", Seq: 3, RunID: "01HX"}
	if err := st.ApplyChunk(ctx, cp, aggregate.Delta{"word": 2}); err != nil {
		t.Fatalf("ApplyChunk: %v", err)
	}
	if _, err := os.Stat(CheckpointPath(path)); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, found, err := reopened.LastCheckpoint(ctx, "run")
	if err != nil || !found {
		t.Fatalf("LastCheckpoint: found=%v err=%v", found, err)
	}
	if got.Seq != 3 || got.RunID != "01HX" {
		t.Errorf("checkpoint = %+v", got)
	}
	if n, _ := reopened.Get(ctx, "word"); n != 2 {
		t.Errorf("word = %d, want 2", n)
	}
}

func TestWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "counts.csv")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.IncrementMany(ctx, aggregate.Delta{"apple": 1}); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
	if n, _ := st.Len(ctx); n != 0 {
		t.Errorf("Len after failed write = %d, want 0", n)
	}
}

func TestWriteFailureKeepsLoadedZeroRows(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "counts.csv")
	if err := os.WriteFile(path, []byte("apple,2\nghost,0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if err := st.IncrementMany(ctx, aggregate.Delta{"ghost": 1, "pear": 1}); err == nil {
		t.Fatal("expected error writing into a removed directory")
	}

	var got []store.Entry
	if err := st.Sorted(ctx, func(e store.Entry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("Sorted: %v", err)
	}
	want := []store.Entry{{Lemma: "apple", Freq: 2}, {Lemma: "ghost", Freq: 0}}
	if len(got) != len(want) {
		t.Fatalf("entries after rollback = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}
