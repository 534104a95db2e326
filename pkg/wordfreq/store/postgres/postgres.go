// Package postgres stores lemma counts in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Config selects the database and table. The checkpoint table is named
// after Table with a "_checkpoints" suffix.
type Config struct {
	DSN          string
	Table        string
	MaxOpenConns int
}

// Store implements store.Store and store.Checkpointer.
type Store struct {
	db          *sql.DB
	table       string
	checkpoints string
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.Checkpointer = (*Store)(nil)
)

// Open connects, pings and creates the tables when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty: %w", internalerr.ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = "wc"
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %v: %w", err, internalerr.ErrStoreUnavailable)
	}

	s := &Store{
		db:          db,
		table:       pq.QuoteIdentifier(cfg.Table),
		checkpoints: pq.QuoteIdentifier(cfg.Table + "_checkpoints"),
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	word TEXT PRIMARY KEY,
	freq BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS %s (
	run_key TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	run_id TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`, s.table, s.checkpoints))
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IncrementMany upserts delta in one transaction. Lemmas are written in
// sorted order so concurrent transactions lock rows in the same sequence.
func (s *Store) IncrementMany(ctx context.Context, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		return s.bump(ctx, tx, delta)
	})
}

func (s *Store) bump(ctx context.Context, tx *sql.Tx, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %[1]s (word, freq) VALUES ($1, $2)
ON CONFLICT (word) DO UPDATE SET freq = %[1]s.freq + EXCLUDED.freq`, s.table))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, lemma := range delta.Lemmas() {
		if _, err := stmt.ExecContext(ctx, lemma, delta[lemma]); err != nil {
			return fmt.Errorf("upsert %q: %w", lemma, err)
		}
	}
	return nil
}

// ApplyChunk upserts delta and the checkpoint in one transaction.
func (s *Store) ApplyChunk(ctx context.Context, cp store.Checkpoint, delta aggregate.Delta) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.bump(ctx, tx, delta); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (run_key, seq, run_id, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (run_key) DO UPDATE SET
	seq = EXCLUDED.seq,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`, s.checkpoints),
			cp.Key, cp.Seq, cp.RunID, cp.UpdatedAt)
		return err
	})
}

// Get returns the frequency of lemma, 0 when absent.
func (s *Store) Get(ctx context.Context, lemma string) (int64, error) {
	var freq int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT freq FROM %s WHERE word = $1`, s.table), lemma,
	).Scan(&freq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return freq, err
}

// Len returns the number of distinct lemmas.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// Sorted streams rows by freq DESC, then word in byte order.
func (s *Store) Sorted(ctx context.Context, fn func(store.Entry) error) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT word, freq FROM %s ORDER BY freq DESC, word COLLATE "C" ASC`, s.table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Lemma, &e.Freq); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastCheckpoint implements store.Checkpointer.
func (s *Store) LastCheckpoint(ctx context.Context, key string) (store.Checkpoint, bool, error) {
	cp := store.Checkpoint{Key: key}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT seq, run_id, updated_at FROM %s WHERE run_key = $1`, s.checkpoints), key,
	).Scan(&cp.Seq, &cp.RunID, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return store.Checkpoint{}, false, nil
	}
	if err != nil {
		return store.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Drop removes both tables.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s, %s`, s.table, s.checkpoints))
	return err
}
