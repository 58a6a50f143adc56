package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB,
	expires_at INTEGER NOT NULL DEFAULT 0
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS cache_kv_expires ON cache_kv(expires_at) WHERE expires_at != 0;
`

// SQLiteStore is a KVStore persisted in a SQLite database. The database file
// can be shared by several processes; WAL mode allows concurrent readers.
// Expiration times are stored per key in unix milliseconds, 0 meaning never.
type SQLiteStore struct {
	pool    *sqlitex.Pool
	path    string
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string, poolSize int, log *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", path, err)
	}

	log.Info("Opened cache database", slog.String("path", path), slog.Int("poolSize", poolSize))
	return &SQLiteStore{
		pool:    pool,
		path:    path,
		timeout: 5 * time.Second,
		log:     log,
		now:     time.Now,
	}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

// Close closes all connections.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	return nil
}

// withConn borrows a connection for the duration of fn.
func (s *SQLiteStore) withConn(fn func(conn *sqlite.Conn) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) Put(key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	return s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO cache_kv (key, value, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			&sqlitex.ExecOptions{Args: []any{key, value, expiresAt}})
	})
}

func (s *SQLiteStore) Get(key string) ([]byte, bool) {
	var (
		value []byte
		found bool
	)
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT value FROM cache_kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
			&sqlitex.ExecOptions{
				Args: []any{key, s.nowMillis()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					value = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, value)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		s.log.Warn("Cache lookup failed", slog.String("key", key), "err", err)
		return nil, false
	}
	return value, found
}

func (s *SQLiteStore) Delete(key string) bool {
	live := false
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`DELETE FROM cache_kv WHERE key = ? RETURNING expires_at`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					expiresAt := stmt.ColumnInt64(0)
					live = expiresAt == 0 || expiresAt > s.nowMillis()
					return nil
				},
			})
	})
	if err != nil {
		s.log.Warn("Cache delete failed", slog.String("key", key), "err", err)
		return false
	}
	return live
}

// Keys returns the sorted live keys starting with prefix.
func (s *SQLiteStore) Keys(prefix string) []string {
	query := `SELECT key FROM cache_kv WHERE key >= ? AND (expires_at = 0 OR expires_at > ?) ORDER BY key`
	args := []any{prefix, s.nowMillis()}
	if upper, ok := prefixUpperBound(prefix); ok {
		query = `SELECT key FROM cache_kv WHERE key >= ? AND key < ? AND (expires_at = 0 OR expires_at > ?) ORDER BY key`
		args = []any{prefix, upper, s.nowMillis()}
	}

	var keys []string
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		s.log.Warn("Cache key scan failed", slog.String("prefix", prefix), "err", err)
		return nil
	}
	return keys
}

// Purge drops expired keys and returns how many were dropped.
func (s *SQLiteStore) Purge() int {
	purged := 0
	err := s.withConn(func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`DELETE FROM cache_kv WHERE expires_at != 0 AND expires_at <= ?`,
			&sqlitex.ExecOptions{Args: []any{s.nowMillis()}}); err != nil {
			return err
		}
		purged = conn.Changes()
		return nil
	})
	if err != nil {
		s.log.Warn("Cache purge failed", "err", err)
	}
	return purged
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix, if one exists.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
