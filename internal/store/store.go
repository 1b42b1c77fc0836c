package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedup/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: run not found")

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 20

// Store defines the persistence interface for the run history.
type Store interface {
	CreateRun(ctx context.Context, databaseID string) (*model.Run, error)
	// FinishRun stores the terminal status, summary and failures of run.
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// encodeResult marshals the JSON columns of a finished run. A nil summary is
// stored as NULL.
func encodeResult(run *model.Run) (summary, failures []byte, err error) {
	if run.Summary != nil {
		summary, err = json.Marshal(run.Summary)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal summary")
		}
	}
	failures, err = json.Marshal(run.Failures)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal failures")
	}
	if len(run.Failures) == 0 {
		failures = nil
	}
	return summary, failures, nil
}

func decodeResult(r *model.Run, summary, failures []byte) error {
	if len(summary) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return eris.Wrapf(err, "store: unmarshal summary of run %s", r.ID)
		}
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &r.Failures); err != nil {
			return eris.Wrapf(err, "store: unmarshal failures of run %s", r.ID)
		}
	}
	return nil
}
