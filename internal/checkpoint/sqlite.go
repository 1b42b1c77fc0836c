package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-dedup/internal/model"
)

// SQLiteStore keeps checkpoints in a SQLite table, one row per CRM database.
type SQLiteStore struct {
	db         *sql.DB
	databaseID string
}

// NewSQLite opens the SQLite database at dsn and prepares the checkpoints
// and sync_tokens tables. The store reads and writes the checkpoint row of
// databaseID only.
func NewSQLite(ctx context.Context, dsn, databaseID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "checkpoint: exec %s", pragma)
		}
	}
	for _, m := range []string{sqliteMigration, tokenMigration} {
		if _, err := db.ExecContext(ctx, m); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "checkpoint: migrate")
		}
	}
	return &SQLiteStore{db: db, databaseID: databaseID}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	database_id TEXT PRIMARY KEY,
	document    TEXT NOT NULL,
	updated_at  DATETIME NOT NULL
);
`

func (s *SQLiteStore) Load(ctx context.Context) (*model.Checkpoint, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM checkpoints WHERE database_id = ?`, s.databaseID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: select %s", s.databaseID)
	}
	return decode([]byte(doc), "checkpoints/"+s.databaseID)
}

func (s *SQLiteStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (database_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(database_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		s.databaseID, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "checkpoint: upsert %s", s.databaseID)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE database_id = ?`, s.databaseID)
	return eris.Wrapf(err, "checkpoint: delete %s", s.databaseID)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
