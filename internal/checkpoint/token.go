package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTokenPath is where the file token store keeps the sync token
// unless configured.
const DefaultTokenPath = ".crm-dedup/sync_token.json"

// TokenStore keeps the incremental sync token of an external contact
// source between runs.
type TokenStore interface {
	// LoadToken returns the stored token, or "" when none exists.
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

type tokenDocument struct {
	Token     string    `json:"sync_token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenFile keeps the sync token as a small JSON document on disk.
type TokenFile struct {
	path string
}

// NewTokenFile returns a TokenFile writing to path.
func NewTokenFile(path string) *TokenFile {
	if path == "" {
		path = DefaultTokenPath
	}
	return &TokenFile{path: path}
}

func (t *TokenFile) LoadToken(_ context.Context) (string, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "checkpoint: read %s", t.path)
	}
	var doc tokenDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", eris.Wrap(ErrCorrupt, fmt.Sprintf("checkpoint: decode %s: %v", t.path, err))
	}
	return doc.Token, nil
}

func (t *TokenFile) SaveToken(_ context.Context, token string) error {
	if token == "" {
		return eris.New("checkpoint: empty sync token")
	}
	data, err := json.Marshal(tokenDocument{Token: token, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal sync token")
	}
	return writeAtomic(t.path, data)
}

func (t *TokenFile) ClearToken(_ context.Context) error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: remove %s", t.path)
	}
	return nil
}

const tokenMigration = `
CREATE TABLE IF NOT EXISTS sync_tokens (
	source     TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// sqliteTokens stores the token of one source in the sync_tokens table.
type sqliteTokens struct {
	db     *sql.DB
	source string
}

// Tokens returns a TokenStore for source backed by the same database as
// the checkpoints.
func (s *SQLiteStore) Tokens(source string) TokenStore {
	return &sqliteTokens{db: s.db, source: source}
}

func (t *sqliteTokens) LoadToken(ctx context.Context) (string, error) {
	var token string
	err := t.db.QueryRowContext(ctx,
		`SELECT token FROM sync_tokens WHERE source = ?`, t.source,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, eris.Wrapf(err, "checkpoint: select sync token %s", t.source)
}

func (t *sqliteTokens) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		return eris.New("checkpoint: empty sync token")
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO sync_tokens (source, token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		t.source, token, time.Now().UTC(),
	)
	return eris.Wrapf(err, "checkpoint: upsert sync token %s", t.source)
}

func (t *sqliteTokens) ClearToken(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM sync_tokens WHERE source = ?`, t.source)
	return eris.Wrapf(err, "checkpoint: delete sync token %s", t.source)
}

// MemoryTokens is a TokenStore held in memory.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
	saves int
}

func (m *MemoryTokens) LoadToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) SaveToken(_ context.Context, token string) error {
	if token == "" {
		return eris.New("checkpoint: empty sync token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.saves++
	return nil
}

func (m *MemoryTokens) ClearToken(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// Saves returns how many times SaveToken succeeded.
func (m *MemoryTokens) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
