package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a file-backed KeyValueStore so cached predictions survive
// process restarts. Expired rows are dropped lazily on Get and swept by a
// janitor goroutine, same as MemoryStore.
type SQLiteStore struct {
	db   *sql.DB
	done chan struct{}
	once sync.Once
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db, done: make(chan struct{})}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.janitor(time.Minute)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS prediction_cache (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prediction_cache_expiry ON prediction_cache(expires_at);
`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM prediction_cache WHERE key=?;", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().Unix() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM prediction_cache WHERE key=?;", key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO prediction_cache(key, value, expires_at) VALUES(?,?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at;",
		key, value, time.Now().Add(ttl).Unix())
	return err
}

func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM prediction_cache WHERE key LIKE ? || '%';", prefix)
	return err
}

// Sweep deletes expired rows in bulk.
func (s *SQLiteStore) Sweep(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM prediction_cache WHERE expires_at <= ?;", time.Now().Unix())
	return err
}

func (s *SQLiteStore) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = s.Sweep(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}
