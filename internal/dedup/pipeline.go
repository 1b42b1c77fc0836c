package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/notify"
)

// ErrDeclined is returned when the operator refuses the archival step.
var ErrDeclined = eris.New("dedup: archival declined")

// History records pipeline runs. Failures to record are logged, never fatal.
type History interface {
	CreateRun(ctx context.Context, databaseID string) (*model.Run, error)
	FinishRun(ctx context.Context, run *model.Run) error
}

// Confirmer asks the operator to approve the decisions before any remote
// mutation. Returning false stops the run with ErrDeclined.
type Confirmer func(ctx context.Context, groups []model.DuplicateGroup, decisions []model.Decision) (bool, error)

// RunOptions controls a single pipeline run.
type RunOptions struct {
	// Reset clears the checkpoint before fetching.
	Reset bool
	// DryRun stops after computing decisions.
	DryRun bool
	// Confirm is consulted before archival when set.
	Confirm Confirmer
	// MaxDuration bounds the whole run when positive. Reaching it stops the
	// run like an operator interrupt: the checkpoint is kept and the
	// decisions not yet attempted are reported as pending.
	MaxDuration time.Duration
}

// Outcome is everything a run produced, for printing and reports.
type Outcome struct {
	RunID     string
	Summary   model.RunSummary
	Groups    []model.DuplicateGroup
	Decisions []model.Decision
	Result    Result
}

// Pipeline wires fetch, detection and archival into one run.
type Pipeline struct {
	fetcher        *Fetcher
	archiver       *Archiver
	checkpoints    checkpoint.Store
	history        History
	notifier       notify.Sink
	databaseID     string
	clearOnSuccess bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithHistory records every run in h.
func WithHistory(h History) PipelineOption {
	return func(p *Pipeline) { p.history = h }
}

// WithNotifier sends the final summary and failures to s.
func WithNotifier(s notify.Sink) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.notifier = s
		}
	}
}

// WithClearOnSuccess removes the checkpoint after a run with no failures.
func WithClearOnSuccess(v bool) PipelineOption {
	return func(p *Pipeline) { p.clearOnSuccess = v }
}

// NewPipeline creates a Pipeline. checkpoints must be the store the fetcher
// reads from.
func NewPipeline(databaseID string, fetcher *Fetcher, archiver *Archiver, checkpoints checkpoint.Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		fetcher:     fetcher,
		archiver:    archiver,
		checkpoints: checkpoints,
		notifier:    notify.Nop{},
		databaseID:  databaseID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes reset, fetch, detect, decide, confirm and apply. The returned
// outcome is never nil and holds whatever was computed before a failure.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	out := &Outcome{}
	run := p.startRun(ctx)
	if run != nil {
		out.RunID = run.ID
	}

	err := p.run(ctx, opts, out)
	p.finishRun(ctx, run, out, err)
	p.notifyOutcome(ctx, out, err)
	return out, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, out *Outcome) error {
	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}

	if opts.Reset {
		if err := p.checkpoints.Clear(ctx); err != nil {
			return eris.Wrap(err, "dedup: reset checkpoint")
		}
		zap.L().Info("pipeline: checkpoint cleared")
	}

	cp, err := p.fetcher.Fetch(ctx)
	if cp != nil {
		out.Summary.Fetched = len(cp.Records)
	}
	if err != nil {
		out.Summary.Interrupted = errors.Is(err, ErrInterrupted)
		logDeadline(ctx, opts)
		return err
	}

	out.Groups = Detect(cp.Records)
	out.Decisions = Decide(out.Groups)
	out.Summary.Groups = len(out.Groups)
	out.Summary.Decisions = len(out.Decisions)
	zap.L().Info("pipeline: duplicates detected",
		zap.Int("records", out.Summary.Fetched),
		zap.Int("groups", out.Summary.Groups),
		zap.Int("decisions", out.Summary.Decisions),
	)

	if opts.DryRun {
		out.Summary.DryRun = true
		return nil
	}
	if len(out.Decisions) == 0 {
		return p.afterSuccess(ctx)
	}

	if opts.Confirm != nil {
		ok, err := opts.Confirm(ctx, out.Groups, out.Decisions)
		if err != nil && ctx.Err() != nil {
			out.Summary.Pending = len(out.Decisions)
			out.Summary.Interrupted = true
			logDeadline(ctx, opts)
			return eris.Wrapf(ErrInterrupted, "dedup: confirmation aborted (%v), %d decision(s) not applied", err, len(out.Decisions))
		}
		if err != nil {
			return eris.Wrap(err, "dedup: confirm")
		}
		if !ok {
			return ErrDeclined
		}
	}

	out.Result = p.archiver.Apply(ctx, out.Decisions)
	out.Summary.Applied = out.Result.Applied
	out.Summary.Skipped = out.Result.Skipped
	out.Summary.Pending = out.Result.Pending
	out.Summary.Failed = len(out.Result.Failed)
	out.Summary.Interrupted = out.Result.Interrupted

	if out.Result.Interrupted {
		logDeadline(ctx, opts)
		return eris.Wrapf(ErrInterrupted, "dedup: %d decision(s) not applied", out.Result.Pending)
	}
	if err := out.Result.Err(); err != nil {
		return err
	}
	return p.afterSuccess(ctx)
}

func logDeadline(ctx context.Context, opts RunOptions) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		zap.L().Warn("pipeline: time limit reached, checkpoint kept",
			zap.Duration("max_duration", opts.MaxDuration),
		)
	}
}

func (p *Pipeline) afterSuccess(ctx context.Context) error {
	if !p.clearOnSuccess {
		return nil
	}
	if err := p.checkpoints.Clear(ctx); err != nil {
		return eris.Wrap(err, "dedup: clear checkpoint")
	}
	return nil
}

func (p *Pipeline) startRun(ctx context.Context) *model.Run {
	if p.history == nil {
		return nil
	}
	run, err := p.history.CreateRun(ctx, p.databaseID)
	if err != nil {
		zap.L().Warn("pipeline: failed to record run start", zap.Error(err))
		return nil
	}
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, run *model.Run, out *Outcome, runErr error) {
	if p.history == nil || run == nil {
		return
	}
	now := time.Now().UTC()
	summary := out.Summary
	run.Summary = &summary
	run.Failures = out.Result.Failures()
	run.FinishedAt = &now
	run.Status = runStatus(out.Summary, runErr)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := p.history.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		zap.L().Warn("pipeline: failed to record run result",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

func runStatus(s model.RunSummary, err error) model.RunStatus {
	switch {
	case errors.Is(err, ErrDeclined):
		return model.RunStatusDeclined
	case err != nil && !errors.Is(err, ErrArchiveFailed) && !errors.Is(err, ErrInterrupted):
		return model.RunStatusFailed
	default:
		return s.Status()
	}
}

func (p *Pipeline) notifyOutcome(ctx context.Context, out *Outcome, runErr error) {
	s := out.Summary
	details := map[string]any{
		"fetched":   s.Fetched,
		"groups":    s.Groups,
		"decisions": s.Decisions,
		"applied":   s.Applied,
		"skipped":   s.Skipped,
		"pending":   s.Pending,
		"failed":    s.Failed,
	}

	var msg notify.Message
	switch {
	case s.DryRun:
		msg = notify.NewMessage(notify.KindSummary, details,
			"CRM dedup dry run: %d contacts, %d duplicate groups, %d decisions", s.Fetched, s.Groups, s.Decisions)
	case runErr != nil && !errors.Is(runErr, ErrArchiveFailed):
		details["error"] = runErr.Error()
		msg = notify.NewMessage(notify.KindFailure, details,
			"CRM dedup stopped after %d contacts: %v", s.Fetched, runErr)
	case s.Failed > 0:
		msg = notify.NewMessage(notify.KindFailure, details,
			"CRM dedup finished with failures: applied %d, skipped %d, failed %d", s.Applied, s.Skipped, s.Failed)
	default:
		msg = notify.NewMessage(notify.KindSummary, details,
			"CRM dedup finished: %d contacts, %d groups, applied %d, skipped %d", s.Fetched, s.Groups, s.Applied, s.Skipped)
	}

	if err := p.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		zap.L().Warn("pipeline: summary notification failed", zap.Error(err))
	}
}
