package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
)

// fakeRemote is an in-memory CRM database. Cursors are offsets encoded as
// strings, which the code under test treats as opaque.
type fakeRemote struct {
	mu       sync.Mutex
	records  []model.Record
	archived map[string]bool

	// listHook, when set, may fail a ListPage call before it is served.
	listHook func(call int, cursor model.Cursor) error
	// getHook and setHook may fail GetRecord and SetArchived calls.
	getHook func(id string, call int) error
	setHook func(id string, call int) error

	listCursors []model.Cursor
	getCalls    map[string]int
	setCalls    map[string]int

	inFlight    int
	maxInFlight int
}

func newFakeRemote(records ...model.Record) *fakeRemote {
	f := &fakeRemote{
		archived: make(map[string]bool),
		getCalls: make(map[string]int),
		setCalls: make(map[string]int),
	}
	for _, r := range records {
		f.records = append(f.records, r)
		f.archived[r.ID] = r.Archived
	}
	return f
}

func (f *fakeRemote) ListPage(_ context.Context, cursor model.Cursor, size int) ([]model.Record, model.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.listCursors)
	f.listCursors = append(f.listCursors, cursor)
	if f.listHook != nil {
		if err := f.listHook(call, cursor); err != nil {
			return nil, "", err
		}
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(string(cursor))
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}
	end := min(offset+size, len(f.records))
	page := make([]model.Record, 0, end-offset)
	for _, r := range f.records[offset:end] {
		r.Archived = f.archived[r.ID]
		page = append(page, r)
	}
	if end >= len(f.records) {
		return page, "", nil
	}
	return page, model.Cursor(strconv.Itoa(end)), nil
}

func (f *fakeRemote) GetRecord(_ context.Context, id string) (model.Record, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if f.getHook != nil {
		if err := f.getHook(id, f.getCalls[id]); err != nil {
			return model.Record{}, err
		}
	}
	for _, r := range f.records {
		if r.ID == id {
			r.Archived = f.archived[id]
			return r, nil
		}
	}
	return model.Record{}, errors.New("object_not_found: " + id)
}

func (f *fakeRemote) SetArchived(_ context.Context, id string, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls[id]++
	if f.setHook != nil {
		if err := f.setHook(id, f.setCalls[id]); err != nil {
			return err
		}
	}
	f.archived[id] = archived
	return nil
}

// enter tracks concurrent GetRecord calls; a short sleep lets calls overlap.
func (f *fakeRemote) enter() {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
}

func (f *fakeRemote) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeRemote) isArchived(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archived[id]
}

func (f *fakeRemote) totalSetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.setCalls {
		n += c
	}
	return n
}

// recordingSink collects notifications.
type recordingSink struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
	onNotify func(notify.Message)
}

func (s *recordingSink) Notify(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	hook := s.onNotify
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return s.err
}

func (s *recordingSink) count(kind notify.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// fastRetry retries without sleeping.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: attempts,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		OnRetry:     func(int, error) {},
	}
}

func rec(id, phone string, edited time.Time) model.Record {
	r := model.Record{ID: id, LastEditedAt: edited}
	if phone != "" {
		r.Phones = []string{phone}
	}
	return r
}

var (
	t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func transient(status int) error {
	return resilience.NewTransientError(fmt.Errorf("notion: status %d", status), status)
}
