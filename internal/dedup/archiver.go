package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
)

// ArchiveTarget reads and mutates the archived flag of remote records.
type ArchiveTarget interface {
	GetRecord(ctx context.Context, id string) (model.Record, error)
	SetArchived(ctx context.Context, id string, archived bool) error
}

// ArchiveConfig configures an Archiver.
type ArchiveConfig struct {
	BatchSize      int
	BatchInterval  time.Duration
	Concurrency    int
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
}

// Failure is a decision that could not be applied.
type Failure struct {
	Decision model.Decision
	Err      error
}

// Result summarizes an Apply call.
type Result struct {
	Applied     int
	Skipped     int
	Pending     int // decisions not attempted because of an interrupt
	Failed      []Failure
	Interrupted bool
}

// Err returns an ErrArchiveFailed error when any decision failed.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return eris.Wrapf(ErrArchiveFailed, "dedup: %d decision(s) failed", len(r.Failed))
}

// Failures converts the failed decisions for run history and reports.
func (r Result) Failures() []model.ArchiveFailure {
	out := make([]model.ArchiveFailure, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, model.ArchiveFailure{
			RecordID: f.Decision.RecordID,
			Action:   f.Decision.Action,
			Error:    f.Err.Error(),
		})
	}
	return out
}

// Archiver applies archival decisions to the remote store in batches.
type Archiver struct {
	target   ArchiveTarget
	notifier notify.Sink
	cfg      ArchiveConfig
}

// NewArchiver creates an Archiver. A nil notifier disables progress
// notifications.
func NewArchiver(target ArchiveTarget, notifier notify.Sink, cfg ArchiveConfig) *Archiver {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("notion", "set_archived")
	}
	return &Archiver{target: target, notifier: notifier, cfg: cfg}
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeFailed
)

type decisionKey struct {
	id     string
	action model.Action
}

// Apply executes decisions batch by batch. A failing decision is recorded
// and never stops the others. Cancelling ctx stops the run before the next
// batch; decisions of the batch in flight still complete.
func (a *Archiver) Apply(ctx context.Context, decisions []model.Decision) Result {
	var res Result
	seen := make(map[decisionKey]struct{}, len(decisions))
	batches := (len(decisions) + a.cfg.BatchSize - 1) / a.cfg.BatchSize

	for b := 0; b < batches; b++ {
		start := b * a.cfg.BatchSize
		if b > 0 && a.cfg.BatchInterval > 0 {
			// An interrupt during the pause is picked up by the check below.
			_ = resilience.SleepContext(ctx, a.cfg.BatchInterval)
		}
		if ctx.Err() != nil {
			res.Pending = len(decisions) - start
			res.Interrupted = true
			zap.L().Warn("archive: interrupted",
				zap.Int("batch", b+1),
				zap.Int("pending", res.Pending),
			)
			break
		}

		batch := decisions[start:min(start+a.cfg.BatchSize, len(decisions))]
		outcomes := make([]outcome, len(batch))
		errs := make([]error, len(batch))

		g := new(errgroup.Group)
		g.SetLimit(a.cfg.Concurrency)
		for i, d := range batch {
			k := decisionKey{id: d.RecordID, action: d.Action}
			if _, dup := seen[k]; dup {
				outcomes[i] = outcomeSkipped
				continue
			}
			seen[k] = struct{}{}
			g.Go(func() error {
				outcomes[i], errs[i] = a.applyOne(ctx, d)
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range outcomes {
			switch o {
			case outcomeApplied:
				res.Applied++
			case outcomeSkipped:
				res.Skipped++
			case outcomeFailed:
				res.Failed = append(res.Failed, Failure{Decision: batch[i], Err: errs[i]})
			}
		}
		a.report(ctx, b+1, batches, res)
	}
	return res
}

// applyOne reads the current state of the record and mutates it only when
// it differs from the target state. The read and the write are retried as
// one unit, so a write that succeeded remotely but whose response was lost
// is recognised on the next attempt.
func (a *Archiver) applyOne(ctx context.Context, d model.Decision) (outcome, error) {
	want := d.Action.Archived()
	wrote := false

	// Requests outlive an interrupt; backoff sleeps do not.
	result, err := resilience.DoVal(context.WithoutCancel(ctx), a.cfg.Retry.SleepOn(ctx), func(rctx context.Context) (outcome, error) {
		cur, err := resilience.WithTimeout(rctx, a.cfg.RequestTimeout, func(c context.Context) (model.Record, error) {
			return a.target.GetRecord(c, d.RecordID)
		})
		if err != nil {
			return outcomeFailed, err
		}
		if cur.Archived == want {
			if wrote {
				return outcomeApplied, nil
			}
			return outcomeSkipped, nil
		}

		wrote = true
		if _, err := resilience.WithTimeout(rctx, a.cfg.RequestTimeout, func(c context.Context) (struct{}, error) {
			return struct{}{}, a.target.SetArchived(c, d.RecordID, want)
		}); err != nil {
			return outcomeFailed, err
		}
		return outcomeApplied, nil
	})
	if err != nil {
		zap.L().Error("archive: decision failed",
			zap.String("record_id", d.RecordID),
			zap.String("action", string(d.Action)),
			zap.Error(err),
		)
		return outcomeFailed, err
	}
	zap.L().Debug("archive: decision done",
		zap.String("record_id", d.RecordID),
		zap.String("action", string(d.Action)),
		zap.Bool("skipped", result == outcomeSkipped),
	)
	return result, nil
}

func (a *Archiver) report(ctx context.Context, batch, batches int, res Result) {
	zap.L().Info("archive: batch done",
		zap.Int("batch", batch),
		zap.Int("batches", batches),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)),
	)

	msg := notify.NewMessage(notify.KindProgress, map[string]any{
		"batch":   batch,
		"batches": batches,
		"applied": res.Applied,
		"skipped": res.Skipped,
		"failed":  len(res.Failed),
	}, "CRM dedup: batch %d/%d, applied %d, skipped %d, failed %d",
		batch, batches, res.Applied, res.Skipped, len(res.Failed))

	if err := a.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		zap.L().Warn("archive: progress notification failed", zap.Error(err))
	}
}
