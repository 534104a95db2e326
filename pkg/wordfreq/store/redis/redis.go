// Package redis stores lemma counts in a Redis hash.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Config selects the server and key prefix. Counts live in the hash
// "<Key>:wc"; each checkpoint in "<Key>:checkpoint:<run key>".
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store implements store.Store and store.Checkpointer.
type Store struct {
	rdb    *redis.Client
	counts string
	prefix string
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.Checkpointer = (*Store)(nil)
)

// Open creates a client and verifies the connection with a PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty: %w", internalerr.ErrInvalidConfig)
	}
	if cfg.Key == "" {
		cfg.Key = "wordfreq"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %v: %w", err, internalerr.ErrStoreUnavailable)
	}
	return &Store{rdb: rdb, counts: cfg.Key + ":wc", prefix: cfg.Key}, nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) checkpointKey(runKey string) string {
	return s.prefix + ":checkpoint:" + runKey
}

// IncrementMany applies delta with HINCRBY inside MULTI/EXEC.
func (s *Store) IncrementMany(ctx context.Context, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.bump(ctx, pipe, delta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment counts: %w", err)
	}
	return nil
}

func (s *Store) bump(ctx context.Context, pipe redis.Pipeliner, delta aggregate.Delta) {
	for lemma, n := range delta {
		pipe.HIncrBy(ctx, s.counts, lemma, n)
	}
}

// ApplyChunk applies delta and writes the checkpoint in the same MULTI/EXEC.
func (s *Store) ApplyChunk(ctx context.Context, cp store.Checkpoint, delta aggregate.Delta) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.bump(ctx, pipe, delta)
		pipe.HSet(ctx, s.checkpointKey(cp.Key),
			"seq", cp.Seq,
			"run_id", cp.RunID,
			"updated_at", cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply chunk %d: %w", cp.Seq, err)
	}
	return nil
}

// Get returns the frequency of lemma, 0 when absent.
func (s *Store) Get(ctx context.Context, lemma string) (int64, error) {
	n, err := s.rdb.HGet(ctx, s.counts, lemma).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Len returns the number of distinct lemmas.
func (s *Store) Len(ctx context.Context) (int64, error) {
	return s.rdb.HLen(ctx, s.counts).Result()
}

// Sorted scans the whole hash and sorts client-side.
func (s *Store) Sorted(ctx context.Context, fn func(store.Entry) error) error {
	var entries []store.Entry
	iter := s.rdb.HScan(ctx, s.counts, 0, "", 1000).Iterator()
	for iter.Next(ctx) {
		lemma := iter.Val()
		if !iter.Next(ctx) {
			break
		}
		n, err := strconv.ParseInt(iter.Val(), 10, 64)
		if err != nil {
			return fmt.Errorf("parse count for %q: %w", lemma, err)
		}
		entries = append(entries, store.Entry{Lemma: lemma, Freq: n})
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", s.counts, err)
	}

	// HSCAN may return a field more than once.
	entries = dedupe(entries)
	store.SortEntries(entries)
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(entries []store.Entry) []store.Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, ok := seen[e.Lemma]; ok {
			continue
		}
		seen[e.Lemma] = struct{}{}
		out = append(out, e)
	}
	return out
}

// LastCheckpoint implements store.Checkpointer.
func (s *Store) LastCheckpoint(ctx context.Context, key string) (store.Checkpoint, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.checkpointKey(key)).Result()
	if err != nil {
		return store.Checkpoint{}, false, err
	}
	if len(vals) == 0 {
		return store.Checkpoint{}, false, nil
	}
	seq, err := strconv.ParseInt(vals["seq"], 10, 64)
	if err != nil {
		return store.Checkpoint{}, false, fmt.Errorf("parse checkpoint seq: %w", err)
	}
	cp := store.Checkpoint{Key: key, Seq: seq, RunID: vals["run_id"]}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		cp.UpdatedAt = ts
	}
	return cp, true, nil
}

// Flush deletes the counts hash and every checkpoint under the key prefix.
func (s *Store) Flush(ctx context.Context) error {
	keys := []string{s.counts}
	iter := s.rdb.Scan(ctx, 0, s.prefix+":checkpoint:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning checkpoints: %w", err)
	}
	return s.rdb.Del(ctx, keys...).Err()
}
