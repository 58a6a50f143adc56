package resource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const repositorySchema = `
CREATE TABLE IF NOT EXISTS resources (
	seq                       INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier                TEXT NOT NULL UNIQUE,
	sha1                      TEXT NOT NULL,
	md5                       TEXT NOT NULL DEFAULT '',
	filename                  TEXT NOT NULL DEFAULT '',
	media_type                TEXT NOT NULL DEFAULT '',
	file_size                 INTEGER NOT NULL DEFAULT 0,
	collection_name           TEXT NOT NULL,
	relative_publication_path TEXT NOT NULL DEFAULT '',
	protected                 INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS resources_sha1 ON resources(sha1);
CREATE INDEX IF NOT EXISTS resources_collection ON resources(collection_name);
`

const resourceColumns = `identifier, sha1, md5, filename, media_type, file_size,
	collection_name, relative_publication_path, protected`

// SQLiteRepository is a ResourceRepository persisted in a SQLite database, so
// that resources imported by one process are visible to the next one.
// Every lookup returns freshly loaded values; compare them with Resource.SameAs.
type SQLiteRepository struct {
	pool    *sqlitex.Pool
	path    string
	timeout time.Duration
	log     *slog.Logger
}

// OpenSQLiteRepository opens or creates the repository database at path.
func OpenSQLiteRepository(path string, poolSize int, log *slog.Logger) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite repository needs a path", interfaces.ErrInvalidArgument)
	}
	if log == nil {
		log = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareRepositoryConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite repository: opening %s: %w", path, err)
	}

	log.Info("Opened resource repository", slog.String("path", path), slog.Int("poolSize", poolSize))
	return &SQLiteRepository{
		pool:    pool,
		path:    path,
		timeout: 5 * time.Second,
		log:     log,
	}, nil
}

func prepareRepositoryConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, repositorySchema, nil)
}

// Close closes all connections.
func (s *SQLiteRepository) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite repository: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteRepository) withConn(fn func(conn *sqlite.Conn) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite repository: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// Add stores resource. Adding a known resource again updates its stored
// fields, which is how a later Protect is persisted.
func (s *SQLiteRepository) Add(resource *interfaces.Resource) error {
	rec := resource.Record()
	if rec.Identifier == "" {
		return fmt.Errorf("%w: resource %s has no identifier", interfaces.ErrInvalidArgument, rec.Sha1)
	}
	protected := 0
	if rec.Protected {
		protected = 1
	}
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO resources (`+resourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identifier) DO UPDATE SET
				md5 = excluded.md5,
				filename = excluded.filename,
				media_type = excluded.media_type,
				file_size = excluded.file_size,
				collection_name = excluded.collection_name,
				relative_publication_path = excluded.relative_publication_path,
				protected = excluded.protected`,
			&sqlitex.ExecOptions{Args: []any{
				rec.Identifier, rec.Sha1, rec.Md5, rec.Filename, rec.MediaType, rec.FileSize,
				rec.CollectionName, rec.RelativePublicationPath, protected,
			}})
	})
	if err != nil {
		return fmt.Errorf("failed to store resource %s: %w", rec.Sha1, err)
	}
	return nil
}

// Remove deletes resource. Removing an unknown resource is a no-op.
func (s *SQLiteRepository) Remove(resource *interfaces.Resource) error {
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM resources WHERE identifier = ?`,
			&sqlitex.ExecOptions{Args: []any{resource.Identifier()}})
	})
	if err != nil {
		return fmt.Errorf("failed to remove resource %s: %w", resource.Sha1(), err)
	}
	return nil
}

func (s *SQLiteRepository) FindAll() []*interfaces.Resource {
	return s.query(`SELECT `+resourceColumns+` FROM resources ORDER BY seq`)
}

func (s *SQLiteRepository) FindBySha1(sha1 interfaces.ContentHash) []*interfaces.Resource {
	return s.query(`SELECT `+resourceColumns+` FROM resources WHERE sha1 = ? ORDER BY seq`, string(sha1))
}

func (s *SQLiteRepository) FindByCollectionName(name string) []*interfaces.Resource {
	return s.query(`SELECT `+resourceColumns+` FROM resources WHERE collection_name = ? ORDER BY seq`, name)
}

// FindSimilarResources returns resources with the same hash and filename as resource.
func (s *SQLiteRepository) FindSimilarResources(resource *interfaces.Resource) []*interfaces.Resource {
	var out []*interfaces.Resource
	for _, r := range s.FindBySha1(resource.Sha1()) {
		if r.Filename() == resource.Filename() {
			out = append(out, r)
		}
	}
	return out
}

func (s *SQLiteRepository) query(query string, args ...any) []*interfaces.Resource {
	var out []*interfaces.Resource
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := interfaces.ResourceFromRecord(interfaces.ResourceRecord{
					Identifier:              stmt.ColumnText(0),
					Sha1:                    stmt.ColumnText(1),
					Md5:                     stmt.ColumnText(2),
					Filename:                stmt.ColumnText(3),
					MediaType:               stmt.ColumnText(4),
					FileSize:                stmt.ColumnInt64(5),
					CollectionName:          stmt.ColumnText(6),
					RelativePublicationPath: stmt.ColumnText(7),
					Protected:               stmt.ColumnInt64(8) != 0,
				})
				if err != nil {
					s.log.Warn("Skipping unreadable resource row", slog.String("identifier", stmt.ColumnText(0)), "err", err)
					return nil
				}
				out = append(out, r)
				return nil
			},
		})
	})
	if err != nil {
		s.log.Warn("Resource query failed", "err", err)
		return nil
	}
	return out
}
