package dedup

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedup/internal/model"
)

// Failure kinds surfaced by the pipeline. Match them with errors.Is.
var (
	// ErrFetchFailed means a page kept failing with transient errors until
	// the retry budget ran out. Re-running resumes from the checkpoint.
	ErrFetchFailed = eris.New("dedup: fetch failed")
	// ErrFetchRejected means the remote store refused a request permanently
	// (bad token, missing database, malformed response).
	ErrFetchRejected = eris.New("dedup: fetch rejected")
	// ErrArchiveFailed marks decisions that could not be applied.
	ErrArchiveFailed = eris.New("dedup: archive failed")
	// ErrInterrupted means the operator stopped the run between two pages or
	// batches. All completed work is persisted.
	ErrInterrupted = eris.New("dedup: interrupted")
)

// FetchError describes why fetching stopped. It matches both its Kind and
// its underlying cause with errors.Is and errors.As.
type FetchError struct {
	Kind   error
	Page   int // 1-based number of the page being requested
	Cursor model.Cursor
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%v at page %d (cursor %q): %v", e.Kind, e.Page, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
