package kvcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k          TEXT PRIMARY KEY,
	v          BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
`

type SQLiteOptions struct {
	Path string
	Now  func() time.Time
}

// SQLite is a single-file durable cache. Expired rows are dropped lazily on
// read; there is no background sweeper.
type SQLite struct {
	db    *sql.DB
	nowFn func() time.Time
}

func OpenSQLite(opts SQLiteOptions) (*SQLite, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init kv schema: %w", err)
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SQLite{db: db, nowFn: nowFn}, nil
}

func (c *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil || c.db == nil {
		return nil, false, fmt.Errorf("sqlite cache is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("key is required")
	}
	var value []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `SELECT v, expires_at FROM kv WHERE k = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt > 0 && c.nowFn().UTC().Unix() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (c *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("sqlite cache is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`,
		key, value, expiryUnix(c.nowFn().UTC(), ttl))
	return err
}

func (c *SQLite) Delete(ctx context.Context, key string) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("sqlite cache is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (c *SQLite) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
