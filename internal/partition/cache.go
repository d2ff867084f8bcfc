package partition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"embedlsp/internal/ranges"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// Cache memoises partitions in SQLite, keyed by a digest of the text.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// digest: sha256 over both language ids and the document text
	// ranges: JSON array of language ranges
	// used_at: unix seconds of the last hit, for pruning
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS partitions (
            digest TEXT PRIMARY KEY,
            ranges TEXT NOT NULL,
            used_at INTEGER NOT NULL
        )`); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_partitions_used_at ON partitions(used_at)`); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func (c *Cache) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get returns the ranges stored under digest.
func (c *Cache) Get(ctx context.Context, digest string) ([]ranges.LanguageRange, bool, error) {
	var blob string
	err := c.db.QueryRowContext(ctx, `SELECT ranges FROM partitions WHERE digest = ?`, digest).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var parts []ranges.LanguageRange
	if err := json.Unmarshal([]byte(blob), &parts); err != nil {
		return nil, false, fmt.Errorf("corrupt entry %s: %w", digest, err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE partitions SET used_at = ? WHERE digest = ?`, c.now().Unix(), digest); err != nil {
		return parts, true, err
	}
	return parts, true, nil
}

// Put stores parts under digest, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, digest string, parts []ranges.LanguageRange) error {
	blob, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	return c.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO partitions (digest, ranges, used_at) VALUES (?, ?, ?)
            ON CONFLICT(digest) DO UPDATE SET ranges = excluded.ranges, used_at = excluded.used_at
        `, digest, string(blob), c.now().Unix())
		return err
	})
}

// Prune deletes entries not used within maxAge and returns how many went.
func (c *Cache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	var n int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE used_at < ?`, c.now().Add(-maxAge).Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
