// Package checkpoint persists the progress of a paginated contact fetch so an
// interrupted run can resume where it stopped.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedup/internal/model"
)

// ErrCorrupt is returned when a stored checkpoint cannot be decoded or does
// not match the expected format. A corrupt checkpoint is never discarded
// implicitly; it must be removed with Clear.
var ErrCorrupt = eris.New("checkpoint: corrupt")

// Store persists a single fetch checkpoint.
type Store interface {
	// Load returns the stored checkpoint, or nil when none exists.
	Load(ctx context.Context) (*model.Checkpoint, error)
	Save(ctx context.Context, cp *model.Checkpoint) error
	Clear(ctx context.Context) error
}

func encode(cp *model.Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, eris.New("checkpoint: nil checkpoint")
	}
	if cp.Version == 0 {
		cp.Version = model.CheckpointVersion
	}
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: marshal")
	}
	return data, nil
}

func decode(data []byte, source string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(ErrCorrupt, fmt.Sprintf("checkpoint: decode %s: %v", source, err))
	}
	if cp.Version != model.CheckpointVersion {
		return nil, eris.Wrap(ErrCorrupt, fmt.Sprintf("checkpoint: %s has version %d, want %d", source, cp.Version, model.CheckpointVersion))
	}
	if cp.Pages < 0 {
		return nil, eris.Wrap(ErrCorrupt, fmt.Sprintf("checkpoint: %s has negative page count", source))
	}
	if cp.Completed && cp.Cursor != "" {
		return nil, eris.Wrap(ErrCorrupt, fmt.Sprintf("checkpoint: %s is completed but has a cursor", source))
	}
	cp.Reindex()
	return &cp, nil
}
