package geocode

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Cache stores geocode results by address key.
type Cache interface {
	// Get returns the cached result for key. ok is false on a miss.
	Get(ctx context.Context, key string) (result *Result, ok bool, err error)
	Put(ctx context.Context, key string, result *Result) error
}

// SQLiteCache is a Cache persisted in a SQLite database. Entries older than
// the TTL are treated as misses.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash      TEXT PRIMARY KEY,
	latitude          REAL NOT NULL DEFAULT 0,
	longitude         REAL NOT NULL DEFAULT 0,
	formatted_address TEXT NOT NULL DEFAULT '',
	quality           TEXT NOT NULL DEFAULT '',
	matched           INTEGER NOT NULL,
	cached_at         INTEGER NOT NULL
);
`

// NewSQLiteCache opens (and creates) the cache at dsn. A ttl of zero keeps
// entries forever.
func NewSQLiteCache(ctx context.Context, dsn string, ttl time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: open cache")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteCacheSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "geocode: init cache")
		}
	}
	return &SQLiteCache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	var r Result
	var cachedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, formatted_address, quality, matched, cached_at FROM geocode_cache WHERE address_hash = ?`,
		key,
	).Scan(&r.Latitude, &r.Longitude, &r.FormattedAddress, &r.Quality, &r.Matched, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "geocode: read cache")
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(cachedAt, 0)) > c.ttl {
		return nil, false, nil
	}

	zap.L().Debug("geocode cache hit", zap.String("key", key[:min(12, len(key))]), zap.Bool("matched", r.Matched))
	return &r, true, nil
}

// Put implements Cache. A result that is neither a match nor a miss (an
// error) is not stored.
func (c *SQLiteCache) Put(ctx context.Context, key string, r *Result) error {
	if r == nil || r.Err != "" {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address_hash, latitude, longitude, formatted_address, quality, matched, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address_hash) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			formatted_address = excluded.formatted_address,
			quality = excluded.quality,
			matched = excluded.matched,
			cached_at = excluded.cached_at`,
		key, r.Latitude, r.Longitude, r.FormattedAddress, r.Quality, r.Matched, c.now().Unix(),
	)
	return eris.Wrap(err, "geocode: store cache")
}

// Close closes the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
