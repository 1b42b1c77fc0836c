package contactsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/dedup"
	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
	"github.com/sells-group/crm-dedup/pkg/google"
)

type fakePeople struct {
	result *google.SyncResult
	err    error
	tokens []string
}

func (f *fakePeople) Sync(_ context.Context, token string) (*google.SyncResult, error) {
	f.tokens = append(f.tokens, token)
	return f.result, f.err
}

type fakeLoader struct {
	records []model.Record
	err     error
	calls   int
}

func (f *fakeLoader) Fetch(_ context.Context) (*model.Checkpoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := model.NewCheckpoint("db-1")
	cp.Merge(f.records, "")
	cp.Complete()
	return cp, nil
}

type fakeCreator struct {
	mu      sync.Mutex
	created []model.Record
	hook    func(rec model.Record, call int) error
	calls   int
}

func (f *fakeCreator) CreateContact(_ context.Context, rec model.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.hook != nil {
		if err := f.hook(rec, f.calls); err != nil {
			return "", err
		}
	}
	f.created = append(f.created, rec)
	return fmt.Sprintf("page-%d", len(f.created)), nil
}

type recordingSink struct {
	messages []notify.Message
}

func (s *recordingSink) Notify(_ context.Context, msg notify.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		OnRetry:     func(int, error) {},
	}
}

type fixture struct {
	people  *fakePeople
	tokens  *checkpoint.MemoryTokens
	loader  *fakeLoader
	creator *fakeCreator
	sink    *recordingSink
}

func newFixture(contacts ...model.Record) *fixture {
	return &fixture{
		people:  &fakePeople{result: &google.SyncResult{Contacts: contacts, SyncToken: "sync-2"}},
		tokens:  &checkpoint.MemoryTokens{},
		loader:  &fakeLoader{records: []model.Record{{ID: "page-1", Name: "Олена", Phones: []string{"+380671112233"}}}},
		creator: &fakeCreator{},
		sink:    &recordingSink{},
	}
}

func (f *fixture) syncer() *Syncer {
	return NewSyncer(f.people, f.tokens, f.loader, f.creator, f.sink, Config{
		RequestTimeout: time.Second,
		Retry:          fastRetry(),
	})
}

func googleContacts() []model.Record {
	return []model.Record{
		{ID: "people/c1", Name: "Олена Коваль", Phones: []string{"067 111 22 33"}},
		{ID: "people/c2", Name: "Іван", Phones: []string{"+380501234567"}},
		{ID: "people/c3", Name: "Петро", Emails: []string{"petro@example.com"}},
	}
}

func TestSyncer_CreatesMissingAndSavesToken(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken(ctx, "sync-1"))

	res, err := f.syncer().Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"sync-1"}, f.people.tokens)
	assert.Equal(t, 3, res.Changed)
	assert.Equal(t, 1, res.Existing)
	assert.Len(t, res.Missing, 2)
	assert.Equal(t, 2, res.Created)
	require.Len(t, f.creator.created, 2)
	assert.Equal(t, "Іван", f.creator.created[0].Name)
	assert.Equal(t, "Петро", f.creator.created[1].Name)

	assert.True(t, res.TokenSaved)
	tok, err := f.tokens.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sync-2", tok)

	require.Len(t, f.sink.messages, 1)
	assert.Equal(t, notify.KindSummary, f.sink.messages[0].Kind)
}

func TestSyncer_FullIgnoresStoredToken(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken(ctx, "sync-1"))

	_, err := f.syncer().Run(ctx, Options{Full: true})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, f.people.tokens)
}

func TestSyncer_NoChangesSkipsCrmFetch(t *testing.T) {
	t.Parallel()
	f := newFixture()

	res, err := f.syncer().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, f.loader.calls)
	assert.Empty(t, res.Missing)
	assert.True(t, res.TokenSaved)
	assert.Empty(t, f.sink.messages, "nothing to report")
}

func TestSyncer_DryRunCreatesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)

	res, err := f.syncer().Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Missing, 2)
	assert.Zero(t, f.creator.calls)
	assert.False(t, res.TokenSaved)
	assert.Zero(t, f.tokens.Saves())
}

func TestSyncer_RetriesTransientCreateErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)
	f.creator.hook = func(_ model.Record, call int) error {
		if call == 1 {
			return resilience.NewTransientError(errors.New("notion: status 429"), 429)
		}
		return nil
	}

	res, err := f.syncer().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 3, f.creator.calls)
}

func TestSyncer_FailureKeepsOldToken(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken(ctx, "sync-1"))
	f.creator.hook = func(rec model.Record, _ int) error {
		if rec.Name == "Іван" {
			return errors.New("validation_error: Phone is not a property")
		}
		return nil
	}

	res, err := f.syncer().Run(ctx, Options{})
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "Іван", res.Failed[0].Contact.Name)
	assert.False(t, res.TokenSaved)

	tok, err := f.tokens.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sync-1", tok, "the changes are listed again next run")
	require.Len(t, f.sink.messages, 1)
	assert.Equal(t, notify.KindFailure, f.sink.messages[0].Kind)
}

func TestSyncer_InterruptLeavesRestPending(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.creator.hook = func(model.Record, int) error {
		cancel()
		return nil
	}

	res, err := f.syncer().Run(ctx, Options{})
	assert.ErrorIs(t, err, dedup.ErrInterrupted)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Pending)
	assert.Zero(t, f.tokens.Saves())
}

func TestSyncer_GoogleErrorIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.people.err = errors.New("google: list connections page 1: 403 insufficient scopes")

	_, err := f.syncer().Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient scopes")
	assert.Zero(t, f.loader.calls)
}

func TestSyncer_CrmFetchInterrupted(t *testing.T) {
	t.Parallel()
	f := newFixture(googleContacts()...)
	f.loader.err = &dedup.FetchError{Kind: dedup.ErrInterrupted, Page: 2, Err: context.Canceled}

	res, err := f.syncer().Run(context.Background(), Options{})
	assert.ErrorIs(t, err, dedup.ErrInterrupted)
	assert.True(t, res.Interrupted)
	assert.Zero(t, f.creator.calls)
}
