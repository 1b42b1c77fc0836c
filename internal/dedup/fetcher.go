package dedup

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/resilience"
)

// MaxPageSize is the largest page the remote store hands out.
const MaxPageSize = 100

var errCursorLoop = eris.New("dedup: remote store returned the cursor it was given")

// RecordSource lists contact records page by page. An empty next cursor
// means there are no further pages.
type RecordSource interface {
	ListPage(ctx context.Context, cursor model.Cursor, size int) (records []model.Record, next model.Cursor, err error)
}

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	DatabaseID     string
	PageSize       int
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
}

// Page is one merged and persisted page of records.
type Page struct {
	Number  int
	Records []model.Record
	Next    model.Cursor
	Total   int // records accumulated so far
	Last    bool
}

// Fetcher retrieves every record of the remote store, checkpointing after
// each page so an interrupted fetch resumes where it stopped.
type Fetcher struct {
	source RecordSource
	store  checkpoint.Store
	cfg    FetchConfig
}

// NewFetcher creates a Fetcher. The page size is clamped to 1..MaxPageSize
// and defaults to MaxPageSize.
func NewFetcher(source RecordSource, store checkpoint.Store, cfg FetchConfig) *Fetcher {
	switch {
	case cfg.PageSize <= 0:
		cfg.PageSize = MaxPageSize
	case cfg.PageSize > MaxPageSize:
		cfg.PageSize = MaxPageSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Fetcher{source: source, store: store, cfg: cfg}
}

// PageSize returns the effective page size.
func (f *Fetcher) PageSize() int {
	return f.cfg.PageSize
}

// Load returns the stored checkpoint, or a fresh one when none exists. A
// checkpoint written for a different database is reported as corrupt.
func (f *Fetcher) Load(ctx context.Context) (*model.Checkpoint, error) {
	cp, err := f.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return model.NewCheckpoint(f.cfg.DatabaseID), nil
	}
	if f.cfg.DatabaseID != "" && cp.DatabaseID != f.cfg.DatabaseID {
		return nil, eris.Wrap(checkpoint.ErrCorrupt,
			fmt.Sprintf("dedup: checkpoint belongs to database %q, not %q", cp.DatabaseID, f.cfg.DatabaseID))
	}
	return cp, nil
}

// Fetch resumes from the stored checkpoint and returns it once every page
// has been merged. A completed checkpoint is returned without any request.
func (f *Fetcher) Fetch(ctx context.Context) (*model.Checkpoint, error) {
	cp, err := f.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cp.Completed {
		zap.L().Info("fetch: checkpoint already complete, skipping remote fetch",
			zap.Int("pages", cp.Pages),
			zap.Int("records", len(cp.Records)),
		)
		return cp, nil
	}
	if !cp.Empty() {
		zap.L().Info("fetch: resuming from checkpoint",
			zap.Int("pages", cp.Pages),
			zap.Int("records", len(cp.Records)),
			zap.String("cursor", string(cp.Cursor)),
		)
	}

	for _, err := range f.Pages(ctx, cp) {
		if err != nil {
			return cp, err
		}
	}
	return cp, nil
}

// Pages lazily fetches the pages following cp.Cursor. Every yielded page has
// already been merged into cp and persisted. Breaking out of the loop leaves
// the checkpoint at the last yielded page. A failure is yielded once as the
// final element.
//
// Cancelling ctx never aborts a request in flight: the cancellation is
// observed before the next page is requested and reported as ErrInterrupted.
func (f *Fetcher) Pages(ctx context.Context, cp *model.Checkpoint) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if cp.Completed {
			return
		}
		persist := context.WithoutCancel(ctx)

		for {
			number := cp.Pages + 1
			if ctx.Err() != nil {
				yield(Page{}, &FetchError{Kind: ErrInterrupted, Page: number, Cursor: cp.Cursor, Err: ctx.Err()})
				return
			}

			records, next, err := f.fetchPage(ctx, cp.Cursor)
			if err != nil {
				yield(Page{}, f.fetchError(ctx, number, cp.Cursor, err))
				return
			}
			if next != "" && next == cp.Cursor {
				yield(Page{}, &FetchError{Kind: ErrFetchRejected, Page: number, Cursor: cp.Cursor, Err: errCursorLoop})
				return
			}

			// cp only advances once the page is on disk.
			advanced := cp.Clone()
			advanced.Merge(records, next)
			last := next == ""
			if last {
				advanced.Complete()
			}
			if err := f.store.Save(persist, advanced); err != nil {
				yield(Page{}, eris.Wrapf(err, "dedup: save checkpoint after page %d", number))
				return
			}
			*cp = *advanced

			zap.L().Info("fetch: page merged",
				zap.Int("page", number),
				zap.Int("page_records", len(records)),
				zap.Int("records", len(cp.Records)),
				zap.String("next_cursor", string(next)),
			)

			page := Page{Number: number, Records: records, Next: next, Total: len(cp.Records), Last: last}
			if !yield(page, nil) || last {
				return
			}
		}
	}
}

// fetchPage requests one page with retries. Requests run on a context that
// the operator interrupt does not cancel, bounded by the request timeout.
// Backoff sleeps do observe the interrupt.
func (f *Fetcher) fetchPage(ctx context.Context, cursor model.Cursor) ([]model.Record, model.Cursor, error) {
	type result struct {
		records []model.Record
		next    model.Cursor
	}

	retry := f.cfg.Retry.SleepOn(ctx)
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("notion", "list_page")
	}

	res, err := resilience.DoVal(context.WithoutCancel(ctx), retry, func(rctx context.Context) (result, error) {
		return resilience.WithTimeout(rctx, f.cfg.RequestTimeout, func(c context.Context) (result, error) {
			records, next, err := f.source.ListPage(c, cursor, f.cfg.PageSize)
			return result{records: records, next: next}, err
		})
	})
	return res.records, res.next, err
}

func (f *Fetcher) fetchError(ctx context.Context, page int, cursor model.Cursor, err error) error {
	kind := ErrFetchRejected
	if resilience.IsTransient(err) {
		kind = ErrFetchFailed
		// The operator stopped the run while we were backing off.
		if ctx.Err() != nil {
			kind = ErrInterrupted
		}
	}
	zap.L().Error("fetch: page failed",
		zap.Int("page", page),
		zap.String("cursor", string(cursor)),
		zap.String("kind", kind.Error()),
		zap.Error(err),
	)
	return &FetchError{Kind: kind, Page: page, Cursor: cursor, Err: err}
}
