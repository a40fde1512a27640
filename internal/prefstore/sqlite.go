package prefstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/shortshider/dbopen"
)

const schema = `CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores preferences in a single table. Writes from other processes
// (the toggle CLI) are picked up by polling PRAGMA data_version.
type SQLite struct {
	db     *sql.DB
	ownsDB bool
	opts   options
	hub    *hub
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, &AccessError{Op: "open", Err: err}
	}
	s := &SQLite{db: db, ownsDB: true, opts: newOptions(opts), hub: newHub()}
	s.opts.logger.Info("prefstore: sqlite opened", "path", path)
	return s, nil
}

// NewSQLite uses an already open database. The caller keeps ownership of db.
func NewSQLite(ctx context.Context, db *sql.DB, opts ...Option) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, &AccessError{Op: "schema", Err: err}
	}
	return &SQLite{db: db, opts: newOptions(opts), hub: newHub()}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) (bool, bool, error) {
	if s.hub.isClosed() {
		return false, false, &AccessError{Op: "get", Key: key, Err: ErrClosed}
	}
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, &AccessError{Op: "get", Key: key, Err: err}
	}
	return v != 0, true, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key string, value bool) error {
	if s.hub.isClosed() {
		return &AccessError{Op: "set", Key: key, Err: ErrClosed}
	}
	v := 0
	if value {
		v = 1
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, v, time.Now().UnixMilli())
	if err != nil {
		return &AccessError{Op: "set", Key: key, Err: err}
	}
	s.hub.kick()
	return nil
}

// Watch implements Store.
func (s *SQLite) Watch(ctx context.Context) <-chan Change {
	return s.hub.watch(ctx, s.opts.logger, s.pollDataVersion, s.snapshot)
}

// Close stops watchers and closes the database if OpenSQLite opened it.
func (s *SQLite) Close() error {
	if !s.hub.close() {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) snapshot(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, &AccessError{Op: "snapshot", Err: err}
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			k string
			v int64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, &AccessError{Op: "snapshot", Err: err}
		}
		out[k] = v != 0
	}
	if err := rows.Err(); err != nil {
		return nil, &AccessError{Op: "snapshot", Err: err}
	}
	return out, nil
}

// pollDataVersion signals whenever PRAGMA data_version moves. The value is
// per connection and the pool may hand out different ones, so a move only
// means "look again"; the snapshot diff decides what changed.
func (s *SQLite) pollDataVersion(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(s.opts.interval)
		defer ticker.Stop()

		last := int64(-1)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var v int64
			if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
				if ctx.Err() == nil {
					s.opts.logger.Warn("prefstore: data_version check failed", "error", err)
				}
				continue
			}
			if v == last {
				continue
			}
			last = v
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
