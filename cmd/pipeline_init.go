package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/dedup"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
	"github.com/sells-group/crm-dedup/internal/store"
	"github.com/sells-group/crm-dedup/pkg/notion"
)

// pipelineEnv holds the clients and stores needed by the dedup and geocode
// commands.
type pipelineEnv struct {
	Source      *notion.ContactSource
	Checkpoints checkpoint.Store
	Store       store.Store // nil when run history is disabled
	Notifier    notify.Sink
	Fetcher     *dedup.Fetcher
	Pipeline    *dedup.Pipeline

	closers []func() error
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		_ = pe.closers[i]()
	}
}

// pipelineOverrides are command-line values that take precedence over the
// configuration.
type pipelineOverrides struct {
	PageSize  int
	BatchSize int
}

// initPipeline sets up the Notion source, checkpoint store, run history and
// notifier, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, ov pipelineOverrides) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &pipelineEnv{}

	cps, closeCP, err := initCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	env.Checkpoints = cps
	if closeCP != nil {
		env.closers = append(env.closers, closeCP)
	}

	st, err := initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
		env.closers = append(env.closers, st.Close)
	}

	env.Source = initNotionSource()
	env.Notifier = notify.New(cfg.Notify)

	retry := resilience.FromConfig(cfg.Retry)
	pageSize := cfg.Fetch.PageSize
	if ov.PageSize > 0 {
		pageSize = ov.PageSize
	}
	batchSize := cfg.Archive.BatchSize
	if ov.BatchSize > 0 {
		batchSize = ov.BatchSize
	}

	env.Fetcher = dedup.NewFetcher(env.Source, env.Checkpoints, dedup.FetchConfig{
		DatabaseID:     cfg.Notion.DatabaseID,
		PageSize:       pageSize,
		RequestTimeout: cfg.Notion.RequestTimeout(),
		Retry:          retry,
	})
	archiver := dedup.NewArchiver(env.Source, env.Notifier, dedup.ArchiveConfig{
		BatchSize:      batchSize,
		BatchInterval:  cfg.Archive.BatchInterval(),
		Concurrency:    cfg.Archive.Concurrency,
		RequestTimeout: cfg.Notion.RequestTimeout(),
		Retry:          retry,
	})

	opts := []dedup.PipelineOption{
		dedup.WithNotifier(env.Notifier),
		dedup.WithClearOnSuccess(cfg.Checkpoint.ClearOnSuccess),
	}
	if env.Store != nil {
		opts = append(opts, dedup.WithHistory(env.Store))
	}
	env.Pipeline = dedup.NewPipeline(cfg.Notion.DatabaseID, env.Fetcher, archiver, env.Checkpoints, opts...)

	zap.L().Debug("pipeline initialized",
		zap.String("database_id", cfg.Notion.DatabaseID),
		zap.String("checkpoint", cfg.Checkpoint.Driver),
		zap.String("store", cfg.Store.Driver),
		zap.Int("page_size", env.Fetcher.PageSize()),
		zap.Int("batch_size", batchSize),
	)
	return env, nil
}

func initNotionSource() *notion.ContactSource {
	client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
	props := notion.PropertyMap{
		Title:   cfg.Notion.Properties.Title,
		Phone:   cfg.Notion.Properties.Phone,
		Address: cfg.Notion.Properties.Address,
		Email:   cfg.Notion.Properties.Email,
	}
	return notion.NewContactSource(client, cfg.Notion.DatabaseID, props)
}

// initCheckpoint opens the configured checkpoint store. The returned close
// function is nil when there is nothing to release.
func initCheckpoint(ctx context.Context) (checkpoint.Store, func() error, error) {
	path := cfg.Checkpoint.Path
	if path == "" {
		path = checkpoint.DefaultPath
	}
	switch cfg.Checkpoint.Driver {
	case "file", "":
		return checkpoint.NewFileStore(path), nil, nil
	case "sqlite":
		if err := ensureDir(path); err != nil {
			return nil, nil, err
		}
		s, err := checkpoint.NewSQLite(ctx, path, cfg.Notion.DatabaseID)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported checkpoint driver: %s", cfg.Checkpoint.Driver)
	}
}

// googleTokenSource keys the People API sync token in the sqlite checkpoint.
const googleTokenSource = "google_people"

// initTokenStore opens the sync token store next to the checkpoint. The
// returned close function is nil when there is nothing to release.
func initTokenStore(ctx context.Context) (checkpoint.TokenStore, func() error, error) {
	switch cfg.Checkpoint.Driver {
	case "file", "":
		path := cfg.Google.TokenPath
		if path == "" {
			path = checkpoint.DefaultTokenPath
		}
		return checkpoint.NewTokenFile(path), nil, nil
	case "sqlite":
		path := cfg.Checkpoint.Path
		if path == "" {
			path = checkpoint.DefaultPath
		}
		if err := ensureDir(path); err != nil {
			return nil, nil, err
		}
		s, err := checkpoint.NewSQLite(ctx, path, cfg.Notion.DatabaseID)
		if err != nil {
			return nil, nil, err
		}
		return s.Tokens(googleTokenSource), s.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported checkpoint driver: %s", cfg.Checkpoint.Driver)
	}
}

// initStore opens the run history store, or returns nil when it is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = ".crm-dedup/runs.db"
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		return store.NewSQLite(dsn)
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// ensureDir creates the parent directory of a local database file.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return eris.Wrapf(os.MkdirAll(dir, 0o755), "create directory %s", dir)
}
