package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/wordfreq/pkg/wordfreq/aggregate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
)

// Store implements store.Store and store.Checkpointer on a SQLite file.
// Writes are serialized by a mutex; each call commits one transaction.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.Checkpointer = (*Store)(nil)
)

// OpenSQLite opens (creating if needed) the database at path with WAL mode
// enabled and synchronous=NORMAL, and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// dsn appends the per-connection pragmas understood by modernc.org/sqlite.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS wc (
	word TEXT PRIMARY KEY,
	freq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS wc_freq_word ON wc (freq DESC, word);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_key TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// IncrementMany adds every count in delta in a single transaction.
func (s *Store) IncrementMany(ctx context.Context, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return bumpMany(ctx, tx, delta)
	})
}

// ApplyChunk adds delta and advances the checkpoint in the same transaction.
func (s *Store) ApplyChunk(ctx context.Context, cp store.Checkpoint, delta aggregate.Delta) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := bumpMany(ctx, tx, delta); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints (run_key, seq, run_id, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(run_key) DO UPDATE SET
	seq=excluded.seq,
	run_id=excluded.run_id,
	updated_at=excluded.updated_at;
`, cp.Key, cp.Seq, cp.RunID, cp.UpdatedAt.UTC().Format(time.RFC3339Nano))
		return err
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func bumpMany(ctx context.Context, tx *sql.Tx, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO wc (word, freq) VALUES (?, ?)
ON CONFLICT(word) DO UPDATE SET freq = wc.freq + excluded.freq;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, lemma := range delta.Lemmas() {
		if _, err := stmt.ExecContext(ctx, lemma, delta[lemma]); err != nil {
			return fmt.Errorf("bump %q: %w", lemma, err)
		}
	}
	return nil
}

// Get returns the frequency of lemma, 0 when absent.
func (s *Store) Get(ctx context.Context, lemma string) (int64, error) {
	var freq int64
	err := s.db.QueryRowContext(ctx, `SELECT freq FROM wc WHERE word = ?`, lemma).Scan(&freq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return freq, err
}

// Len returns the number of distinct lemmas.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wc`).Scan(&n)
	return n, err
}

// Sorted streams rows ordered by freq DESC, word ASC (BINARY collation).
func (s *Store) Sorted(ctx context.Context, fn func(store.Entry) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT word, freq FROM wc ORDER BY freq DESC, word ASC`)
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

// LastCheckpoint returns the checkpoint stored for key.
func (s *Store) LastCheckpoint(ctx context.Context, key string) (store.Checkpoint, bool, error) {
	cp := store.Checkpoint{Key: key}
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, run_id, updated_at FROM checkpoints WHERE run_key = ?`, key,
	).Scan(&cp.Seq, &cp.RunID, &updated)
	if err == sql.ErrNoRows {
		return store.Checkpoint{}, false, nil
	}
	if err != nil {
		return store.Checkpoint{}, false, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		cp.UpdatedAt = ts
	}
	return cp, true, nil
}
