// Package pipeline drives a text through chunking, annotation, filtering and
// counting into a frequency store.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/chunk"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
	"github.com/cognicore/wordfreq/pkg/wordfreq/metrics"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Options configures a Runner.
type Options struct {
	Annotator annotate.Annotator
	Store     store.Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics // optional

	Chunk chunk.Options

	// BatchSize × Workers chunks are handed to the annotator per call, which
	// bounds the chunks held in memory. Both default to 1.
	BatchSize int
	Workers   int

	// GCEvery forces a garbage collection after every n applied chunks.
	// Zero disables it.
	GCEvery int

	// RunKey enables checkpointed resume on stores implementing
	// store.Checkpointer. See RunKey().
	RunKey string

	// Progress is the minimum interval between progress logs (default 10s).
	Progress time.Duration
}

// Stats summarizes one Run.
type Stats struct {
	RunID     string
	Chunks    int64 // chunks annotated and applied
	Skipped   int64 // chunks skipped because a checkpoint covered them
	Discarded int   // malformed regions dropped by the chunker
	Tokens    int64 // tokens returned by the annotator
	Counted   int64 // tokens that passed the filter
	Lemmas    int64 // distinct lemmas in the store afterwards
	Estimate  int   // advisory chunk estimate
	Elapsed   time.Duration
}

// Runner processes texts into a store. A Runner is not safe for concurrent
// Run calls.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and fills in defaults. Invalid chunk options fail here,
// before any text is read or annotated.
func New(opts Options) (*Runner, error) {
	if opts.Annotator == nil {
		return nil, fmt.Errorf("%w: annotator is required", internalerr.ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", internalerr.ErrInvalidConfig)
	}
	chunkOpts, err := opts.Chunk.Validate()
	if err != nil {
		return nil, err
	}
	opts.Chunk = chunkOpts
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.GCEvery < 0 {
		return nil, fmt.Errorf("%w: gc interval %d is negative", internalerr.ErrInvalidConfig, opts.GCEvery)
	}
	if opts.Progress <= 0 {
		opts.Progress = 10 * time.Second
	}
	return &Runner{opts: opts, logger: logging.Component(opts.Logger, "pipeline")}, nil
}

// RunKey derives a checkpoint key from the lowercased text and the chunk
// options. Resuming is only sound when both are unchanged, since chunks are
// identified by their sequence number.
func RunKey(text string, opts chunk.Options) string {
	if v, err := opts.Validate(); err == nil {
		opts = v
	}
	h := sha256.New()
	h.Write([]byte(strings.ToLower(text)))
	fmt.Fprintf(h, "\x00size=%d;distance=%d", opts.Size, opts.SearchDistance)
	return hex.EncodeToString(h.Sum(nil))
}

// Run lowercases text and drives every chunk through the annotator into the
// store. Counts committed before an error stay in the store.
func (r *Runner) Run(ctx context.Context, text string) (Stats, error) {
	start := time.Now()
	stats := Stats{RunID: ulid.Make().String()}
	logger := r.logger.With("run_id", stats.RunID)

	text = strings.ToLower(text)
	chunker, err := chunk.New(text, r.opts.Chunk)
	if err != nil {
		return stats, err
	}
	stats.Estimate = chunk.Estimate(text, r.opts.Chunk.Size)

	ck, resumeFrom, err := r.checkpoint(ctx, logger)
	if err != nil {
		return stats, err
	}

	logger.Info("processing chunks",
		"estimate", stats.Estimate,
		"chunk_size", r.opts.Chunk.Size,
		"batch_size", r.opts.BatchSize,
		"workers", r.opts.Workers,
		"resume_from", resumeFrom,
	)

	b := &batcher{
		runner:   r,
		logger:   logger,
		stats:    &stats,
		ck:       ck,
		progress: &rate.Sometimes{Interval: r.opts.Progress},
		texts:    make([]string, 0, r.opts.BatchSize*r.opts.Workers),
	}

	var seq int64
	for c := range chunker.All() {
		seq++
		if seq <= resumeFrom {
			stats.Skipped++
			r.opts.Metrics.ChunkSkipped()
			continue
		}
		if err := b.add(ctx, seq, c); err != nil {
			return stats, err
		}
	}
	if err := b.flush(ctx); err != nil {
		return stats, err
	}

	stats.Discarded = chunker.Discarded()
	r.opts.Metrics.Discarded(stats.Discarded)

	lemmas, err := r.opts.Store.Len(ctx)
	if err != nil {
		return stats, fmt.Errorf("count lemmas: %w", err)
	}
	stats.Lemmas = lemmas
	r.opts.Metrics.SetLemmas(lemmas)
	stats.Elapsed = time.Since(start)

	logger.Info("completed processing of all chunks",
		"chunks", stats.Chunks,
		"skipped", stats.Skipped,
		"discarded", stats.Discarded,
		"tokens", stats.Tokens,
		"counted", stats.Counted,
		"lemmas", stats.Lemmas,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// checkpoint returns the checkpointer to commit through and the last
// committed sequence number, or nil when checkpoints are off.
func (r *Runner) checkpoint(ctx context.Context, logger *slog.Logger) (store.Checkpointer, int64, error) {
	if r.opts.RunKey == "" {
		return nil, 0, nil
	}
	ck, ok := r.opts.Store.(store.Checkpointer)
	if !ok {
		logger.Warn("store does not support checkpoints, a rerun will count chunks again", "run_key", r.opts.RunKey)
		return nil, 0, nil
	}
	last, found, err := ck.LastCheckpoint(ctx, r.opts.RunKey)
	if err != nil {
		return nil, 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if found {
		logger.Info("resuming from checkpoint", "run_key", r.opts.RunKey, "seq", last.Seq, "previous_run_id", last.RunID)
	}
	return ck, last.Seq, nil
}

// batcher holds the chunks in flight and applies them in sequence order.
type batcher struct {
	runner   *Runner
	logger   *slog.Logger
	stats    *Stats
	ck       store.Checkpointer
	progress *rate.Sometimes

	texts    []string
	firstSeq int64
}

func (b *batcher) add(ctx context.Context, seq int64, text string) error {
	if len(b.texts) == 0 {
		b.firstSeq = seq
	}
	b.texts = append(b.texts, text)
	if len(b.texts) < cap(b.texts) {
		return nil
	}
	return b.flush(ctx)
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.texts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r := b.runner
	last := b.firstSeq + int64(len(b.texts)) - 1

	started := time.Now()
	docs, err := r.opts.Annotator.Annotate(ctx, b.texts)
	r.opts.Metrics.ObserveAnnotate(time.Since(started))
	if err != nil {
		return fmt.Errorf("annotate chunks %d-%d: %w", b.firstSeq, last, err)
	}
	if len(docs) != len(b.texts) {
		return fmt.Errorf("chunks %d-%d: got %d annotated results for %d chunks: %w",
			b.firstSeq, last, len(docs), len(b.texts), internalerr.ErrAnnotationMismatch)
	}

	for i, tokens := range docs {
		seq := b.firstSeq + int64(i)
		delta := aggregate.CountWith(tokens, r.opts.Metrics.ObserveToken)
		if err := b.apply(ctx, seq, delta); err != nil {
			return err
		}

		b.stats.Chunks++
		b.stats.Tokens += int64(len(tokens))
		b.stats.Counted += delta.Total()
		r.opts.Metrics.ChunkProcessed()

		docs[i] = nil
		b.texts[i] = ""
		if r.opts.GCEvery > 0 && b.stats.Chunks%int64(r.opts.GCEvery) == 0 {
			runtime.GC()
		}
		b.progress.Do(func() {
			b.logger.Info("progress", "chunks", b.stats.Chunks, "estimate", b.stats.Estimate, "counted", b.stats.Counted)
		})
	}
	b.texts = b.texts[:0]
	return nil
}

func (b *batcher) apply(ctx context.Context, seq int64, delta aggregate.Delta) error {
	r := b.runner
	started := time.Now()
	var err error
	if b.ck != nil {
		err = b.ck.ApplyChunk(ctx, store.Checkpoint{
			Key:   r.opts.RunKey,
			Seq:   seq,
			RunID: b.stats.RunID,
		}, delta)
	} else {
		err = r.opts.Store.IncrementMany(ctx, delta)
	}
	r.opts.Metrics.ObserveApply(time.Since(started))
	if err != nil {
		return fmt.Errorf("apply chunk %d: %w", seq, err)
	}
	b.logger.Debug("applied chunk", "seq", seq, "lemmas", len(delta))
	return nil
}
