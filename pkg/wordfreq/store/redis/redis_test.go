package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/storetest"
)

func testAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("WORDFREQ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WORDFREQ_TEST_REDIS_ADDR not set")
	}
	return addr
}

func openTemp(t *testing.T, addr string) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, Config{Addr: addr, Key: fmt.Sprintf("wordfreq-test-%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Flush(ctx) })
	return st
}

func TestContract(t *testing.T) {
	addr := testAddr(t)
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t, addr) })
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := openTemp(t, testAddr(t))
	ctx := context.Background()

	cp := store.Checkpoint{Key: "k", Seq: 9, RunID: "01RUN"}
	if err := st.ApplyChunk(ctx, cp, aggregate.Delta{"word": 4}); err != nil {
		t.Fatalf("ApplyChunk: %v", err)
	}
	got, found, err := st.LastCheckpoint(ctx, "k")
	if err != nil || !found {
		t.Fatalf("LastCheckpoint: found=%v err=%v", found, err)
	}
	if got.Seq != 9 || got.RunID != "01RUN" {
		t.Errorf("checkpoint = %+v", got)
	}
	if _, found, _ := st.LastCheckpoint(ctx, "other"); found {
		t.Error("unexpected checkpoint for unknown key")
	}
}

func TestDedupe(t *testing.T) {
	in := []store.Entry{{Lemma: "a", Freq: 1}, {Lemma: "b", Freq: 2}, {Lemma: "a", Freq: 1}}
	out := dedupe(in)
	if len(out) != 2 || out[0].Lemma != "a" || out[1].Lemma != "b" {
		t.Fatalf("dedupe = %v", out)
	}
}

func TestOpenRequiresAddr(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
