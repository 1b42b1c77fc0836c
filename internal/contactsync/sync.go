// Package contactsync pushes Google Contacts that the CRM database does not
// hold yet into Notion.
package contactsync

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/dedup"
	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
	"github.com/sells-group/crm-dedup/pkg/google"
)

// ErrCreateFailed is returned when at least one contact could not be created.
var ErrCreateFailed = eris.New("contactsync: contact creation failed")

// PeopleSource lists Google contacts changed since a sync token.
type PeopleSource interface {
	Sync(ctx context.Context, token string) (*google.SyncResult, error)
}

// RecordLoader returns every contact of the CRM database.
type RecordLoader interface {
	Fetch(ctx context.Context) (*model.Checkpoint, error)
}

// ContactCreator adds a contact to the CRM database.
type ContactCreator interface {
	CreateContact(ctx context.Context, rec model.Record) (string, error)
}

// Config configures a Syncer.
type Config struct {
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
}

// Options controls a single sync.
type Options struct {
	// Full ignores the stored sync token.
	Full bool
	// DryRun lists the missing contacts without creating them.
	DryRun bool
}

// Failure is a contact that could not be created.
type Failure struct {
	Contact model.Record
	Err     error
}

// Result summarizes a sync.
type Result struct {
	FullSync    bool
	Changed     int // live Google contacts reported
	Deleted     int // Google contacts reported as removed
	Existing    int // CRM contacts compared against
	Missing     []model.Record
	Created     int
	Pending     int // missing contacts not attempted because of an interrupt
	Failed      []Failure
	Interrupted bool
	TokenSaved  bool
}

// Syncer runs Google sync, comparison and creation.
type Syncer struct {
	people   PeopleSource
	tokens   checkpoint.TokenStore
	loader   RecordLoader
	creator  ContactCreator
	notifier notify.Sink
	cfg      Config
}

// NewSyncer creates a Syncer. A nil notifier disables notifications.
func NewSyncer(people PeopleSource, tokens checkpoint.TokenStore, loader RecordLoader, creator ContactCreator, notifier notify.Sink, cfg Config) *Syncer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("notion", "create_page")
	}
	return &Syncer{
		people:   people,
		tokens:   tokens,
		loader:   loader,
		creator:  creator,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run syncs Google contacts and creates the ones missing from the CRM. The
// new sync token is stored only after every missing contact was created, so
// a failed or interrupted run sees the same changes again next time.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	err := s.run(ctx, opts, res)
	s.notifyOutcome(ctx, res, err)
	return res, err
}

func (s *Syncer) run(ctx context.Context, opts Options, res *Result) error {
	token := ""
	if !opts.Full {
		t, err := s.tokens.LoadToken(ctx)
		if err != nil {
			return eris.Wrap(err, "contactsync: load sync token")
		}
		token = t
	}

	synced, err := s.people.Sync(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
			return eris.Wrapf(dedup.ErrInterrupted, "contactsync: google sync stopped: %v", err)
		}
		return eris.Wrap(err, "contactsync: google sync")
	}
	res.FullSync = synced.Full
	res.Changed = len(synced.Contacts)
	res.Deleted = len(synced.Deleted)

	var existing []model.Record
	if len(synced.Contacts) > 0 {
		cp, err := s.loader.Fetch(ctx)
		if err != nil {
			res.Interrupted = errors.Is(err, dedup.ErrInterrupted)
			return err
		}
		existing = cp.Records
	}
	res.Existing = len(existing)
	res.Missing = Missing(existing, synced.Contacts)
	zap.L().Info("contactsync: compared",
		zap.Bool("full_sync", res.FullSync),
		zap.Int("changed", res.Changed),
		zap.Int("deleted", res.Deleted),
		zap.Int("existing", res.Existing),
		zap.Int("missing", len(res.Missing)),
	)

	if opts.DryRun {
		return nil
	}

	for i, c := range res.Missing {
		if ctx.Err() != nil {
			res.Pending = len(res.Missing) - i
			res.Interrupted = true
			return eris.Wrapf(dedup.ErrInterrupted, "contactsync: %d contact(s) not created", res.Pending)
		}
		id, err := s.create(ctx, c)
		if err != nil {
			zap.L().Error("contactsync: create failed", zap.String("name", c.Name), zap.Error(err))
			res.Failed = append(res.Failed, Failure{Contact: c, Err: err})
			continue
		}
		res.Created++
		zap.L().Debug("contactsync: contact created", zap.String("name", c.Name), zap.String("page_id", id))
	}
	if len(res.Failed) > 0 {
		return eris.Wrapf(ErrCreateFailed, "contactsync: %d contact(s) failed", len(res.Failed))
	}

	if synced.SyncToken == "" {
		zap.L().Warn("contactsync: google returned no sync token; next run is a full sync")
		return nil
	}
	if err := s.tokens.SaveToken(context.WithoutCancel(ctx), synced.SyncToken); err != nil {
		return eris.Wrap(err, "contactsync: save sync token")
	}
	res.TokenSaved = true
	return nil
}

// create adds one contact with retries. The request is not cut short by an
// interrupt; backoff sleeps are.
func (s *Syncer) create(ctx context.Context, c model.Record) (string, error) {
	return resilience.DoVal(context.WithoutCancel(ctx), s.cfg.Retry.SleepOn(ctx), func(rctx context.Context) (string, error) {
		return resilience.WithTimeout(rctx, s.cfg.RequestTimeout, func(reqCtx context.Context) (string, error) {
			return s.creator.CreateContact(reqCtx, c)
		})
	})
}

func (s *Syncer) notifyOutcome(ctx context.Context, res *Result, runErr error) {
	details := map[string]any{
		"full_sync": res.FullSync,
		"changed":   res.Changed,
		"deleted":   res.Deleted,
		"missing":   len(res.Missing),
		"created":   res.Created,
		"pending":   res.Pending,
		"failed":    len(res.Failed),
	}

	var msg notify.Message
	switch {
	case runErr != nil:
		details["error"] = runErr.Error()
		msg = notify.NewMessage(notify.KindFailure, details,
			"CRM contact sync stopped: created %d of %d, failed %d: %v", res.Created, len(res.Missing), len(res.Failed), runErr)
	case res.Created == 0:
		// Nothing new; stay quiet.
		return
	default:
		msg = notify.NewMessage(notify.KindSummary, details,
			"CRM contact sync: %d new contact(s) added from Google", res.Created)
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		zap.L().Warn("contactsync: notification failed", zap.Error(err))
	}
}
