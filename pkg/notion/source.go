package notion

import (
	"context"
	"fmt"
	"sync"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedup/internal/model"
)

// MaxPageSize is the largest page the Notion query endpoint returns.
const MaxPageSize = 100

// ErrMalformedResponse is returned when Notion reports more results without
// a cursor to fetch them. It is permanent; retrying the same cursor cannot
// fix it.
var ErrMalformedResponse = eris.New("notion: malformed query response")

// ContactSource reads, creates and archives contact pages of one CRM
// database.
type ContactSource struct {
	client     Client
	databaseID string
	props      PropertyMap

	mu     sync.Mutex
	schema notionapi.PropertyConfigs // loaded on the first CreateContact
}

// NewContactSource creates a ContactSource for the given database.
func NewContactSource(client Client, databaseID string, props PropertyMap) *ContactSource {
	return &ContactSource{
		client:     client,
		databaseID: databaseID,
		props:      props.withDefaults(),
	}
}

// DatabaseID returns the database this source reads from.
func (s *ContactSource) DatabaseID() string {
	return s.databaseID
}

// ListPage fetches one page of contacts starting at cursor. The returned
// cursor is empty once the database has no further pages. Pages are sorted by
// creation time so a cursor stays meaningful across process restarts.
func (s *ContactSource) ListPage(ctx context.Context, cursor model.Cursor, size int) ([]model.Record, model.Cursor, error) {
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	req := &notionapi.DatabaseQueryRequest{
		Sorts: []notionapi.SortObject{
			{Timestamp: notionapi.TimestampCreated, Direction: notionapi.SortOrderASC},
		},
		StartCursor: notionapi.Cursor(cursor),
		PageSize:    size,
	}

	resp, err := s.client.QueryDatabase(ctx, s.databaseID, req)
	if err != nil {
		return nil, "", err
	}
	if resp == nil {
		return nil, "", eris.Wrap(ErrMalformedResponse, "notion: empty body")
	}

	records := make([]model.Record, 0, len(resp.Results))
	for i := range resp.Results {
		records = append(records, PageToRecord(&resp.Results[i], s.props))
	}

	if !resp.HasMore {
		return records, "", nil
	}
	if resp.NextCursor == "" {
		return nil, "", eris.Wrap(ErrMalformedResponse, fmt.Sprintf("notion: has_more without next_cursor after %q", cursor))
	}
	return records, model.Cursor(resp.NextCursor), nil
}

// GetRecord fetches the current state of a single contact.
func (s *ContactSource) GetRecord(ctx context.Context, id string) (model.Record, error) {
	page, err := s.client.GetPage(ctx, id)
	if err != nil {
		return model.Record{}, err
	}
	if page == nil {
		return model.Record{}, eris.Wrap(ErrMalformedResponse, fmt.Sprintf("notion: empty page %s", id))
	}
	return PageToRecord(page, s.props), nil
}

// SetArchived archives or restores a contact page.
func (s *ContactSource) SetArchived(ctx context.Context, id string, archived bool) error {
	_, err := s.client.UpdatePage(ctx, id, &notionapi.PageUpdateRequest{
		// An explicit empty map; a nil one is sent as null and rejected.
		Properties: notionapi.Properties{},
		Archived:   archived,
	})
	return err
}
