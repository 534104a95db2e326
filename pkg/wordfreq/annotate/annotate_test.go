package annotate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func upperFunc() Func {
	return func(ctx context.Context, text string) ([]Token, error) {
		var toks []Token
		for _, w := range strings.Fields(text) {
			toks = append(toks, Token{Text: w, Lemma: strings.ToUpper(w), IsASCII: true})
		}
		return toks, nil
	}
}

func TestParallelPreservesOrder(t *testing.T) {
	var calls atomic.Int64
	slowFirst := Func(func(ctx context.Context, text string) ([]Token, error) {
		calls.Add(1)
		if text == "t0" {
			time.Sleep(20 * time.Millisecond)
		}
		return upperFunc()(ctx, text)
	})

	texts := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	for _, workers := range []int{0, 1, 3, 8} {
		out, err := Parallel(slowFirst, workers).Annotate(context.Background(), texts)
		if err != nil {
			t.Fatalf("workers=%d: Annotate: %v", workers, err)
		}
		if len(out) != len(texts) {
			t.Fatalf("workers=%d: got %d results, want %d", workers, len(out), len(texts))
		}
		for i, toks := range out {
			if len(toks) != 1 || toks[0].Text != texts[i] {
				t.Errorf("workers=%d: result %d = %+v, want token for %q", workers, i, toks, texts[i])
			}
		}
	}
	if calls.Load() != int64(4*len(texts)) {
		t.Errorf("expected %d calls, got %d", 4*len(texts), calls.Load())
	}
}

func TestParallelPropagatesError(t *testing.T) {
	boom := errors.New("engine failure")
	failing := Func(func(ctx context.Context, text string) ([]Token, error) {
		if text == "bad" {
			return nil, boom
		}
		return nil, nil
	})

	for _, workers := range []int{1, 4} {
		_, err := Parallel(failing, workers).Annotate(context.Background(), []string{"ok", "bad", "ok"})
		if !errors.Is(err, boom) {
			t.Errorf("workers=%d: expected wrapped engine error, got %v", workers, err)
		}
	}
}

func TestParallelEmptyBatch(t *testing.T) {
	out, err := Parallel(upperFunc(), 4).Annotate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}
