package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"

	"github.com/sells-group/crm-dedup/internal/resilience"
)

// connectionsServer serves people/me/connections. Requests carrying an
// expired sync token get the given error status.
type connectionsServer struct {
	mu       sync.Mutex
	expired  string
	status   int
	pages    map[string]map[string]any // page token -> response body
	requests []map[string]string
}

func (s *connectionsServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/people/me/connections", r.URL.Path)
		q := r.URL.Query()

		s.mu.Lock()
		s.requests = append(s.requests, map[string]string{
			"syncToken":        q.Get("syncToken"),
			"pageToken":        q.Get("pageToken"),
			"requestSyncToken": q.Get("requestSyncToken"),
			"personFields":     q.Get("personFields"),
		})
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if tok := q.Get("syncToken"); tok != "" && tok == s.expired {
			w.WriteHeader(s.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    s.status,
					"message": "Sync token is expired. Clear local cache and retry call without the sync token.",
					"status":  "FAILED_PRECONDITION",
				},
			})
			return
		}
		body, ok := s.pages[q.Get("pageToken")]
		if !assert.True(t, ok, "unexpected page token %q", q.Get("pageToken")) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newTestSyncer(t *testing.T, srv *httptest.Server) *PeopleSyncer {
	t.Helper()
	svc, err := people.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewPeopleSyncer(svc, WithRetry(resilience.RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		OnRetry:     func(int, error) {},
	}))
}

func twoPages() map[string]map[string]any {
	return map[string]map[string]any{
		"": {
			"connections": []map[string]any{
				{
					"resourceName": "people/c1",
					"names":        []map[string]any{{"displayName": "Олена Коваль"}},
					"phoneNumbers": []map[string]any{{"value": "067 111 22 33", "canonicalForm": "+380671112233"}},
				},
				{
					"resourceName": "people/c2",
					"metadata":     map[string]any{"deleted": true},
				},
			},
			"nextPageToken": "p2",
		},
		"p2": {
			"connections": []map[string]any{
				{
					"resourceName":   "people/c3",
					"names":          []map[string]any{{"displayName": " Іван "}},
					"emailAddresses": []map[string]any{{"value": "ivan@example.com"}},
				},
			},
			"nextSyncToken": "sync-2",
		},
	}
}

func TestSync_FullWithoutToken(t *testing.T) {
	cs := &connectionsServer{pages: twoPages()}
	srv := httptest.NewServer(cs.handler(t))
	defer srv.Close()

	res, err := newTestSyncer(t, srv).Sync(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, res.Full)
	assert.Equal(t, "sync-2", res.SyncToken)
	assert.Equal(t, []string{"people/c2"}, res.Deleted)
	require.Len(t, res.Contacts, 2)
	assert.Equal(t, "people/c1", res.Contacts[0].ID)
	assert.Equal(t, "Олена Коваль", res.Contacts[0].Name)
	assert.Equal(t, []string{"+380671112233"}, res.Contacts[0].Phones)
	assert.Equal(t, "Іван", res.Contacts[1].Name)
	assert.Equal(t, []string{"ivan@example.com"}, res.Contacts[1].Emails)

	require.Len(t, cs.requests, 2)
	assert.Empty(t, cs.requests[0]["syncToken"])
	assert.Equal(t, "true", cs.requests[0]["requestSyncToken"])
	assert.Equal(t, personFields, cs.requests[0]["personFields"])
	assert.Equal(t, "p2", cs.requests[1]["pageToken"])
}

func TestSync_Incremental(t *testing.T) {
	cs := &connectionsServer{pages: twoPages()}
	srv := httptest.NewServer(cs.handler(t))
	defer srv.Close()

	res, err := newTestSyncer(t, srv).Sync(context.Background(), "sync-1")
	require.NoError(t, err)

	assert.False(t, res.Full)
	assert.Equal(t, "sync-2", res.SyncToken)
	for _, r := range cs.requests {
		assert.Equal(t, "sync-1", r["syncToken"])
	}
}

func TestSync_ExpiredTokenFallsBackToFullSync(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusGone} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			cs := &connectionsServer{pages: twoPages(), expired: "stale", status: status}
			srv := httptest.NewServer(cs.handler(t))
			defer srv.Close()

			res, err := newTestSyncer(t, srv).Sync(context.Background(), "stale")
			require.NoError(t, err)

			assert.True(t, res.Full)
			assert.Equal(t, "sync-2", res.SyncToken)
			assert.Len(t, res.Contacts, 2)

			require.Len(t, cs.requests, 3, "one rejected request, then two full-sync pages")
			assert.Equal(t, "stale", cs.requests[0]["syncToken"])
			assert.Empty(t, cs.requests[1]["syncToken"])
			assert.Empty(t, cs.requests[2]["syncToken"])
		})
	}
}

func TestSync_OtherErrorsAreReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient scopes","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	_, err := newTestSyncer(t, srv).Sync(context.Background(), "sync-1")
	require.Error(t, err)
	assert.False(t, IsExpiredToken(err))
	assert.Contains(t, err.Error(), "insufficient scopes")
}

func TestSync_RetriesServerErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend unavailable"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"connections":[],"nextSyncToken":"sync-9"}`))
	}))
	defer srv.Close()

	res, err := newTestSyncer(t, srv).Sync(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "sync-9", res.SyncToken)
	assert.Equal(t, 2, calls)
}

func TestPersonToRecord(t *testing.T) {
	t.Parallel()
	rec := PersonToRecord(&people.Person{
		ResourceName: "people/c7",
		Names:        []*people.Name{nil, {DisplayName: "  "}, {DisplayName: "Петро"}},
		PhoneNumbers: []*people.PhoneNumber{
			{Value: "+380 (50) 123-45-67"},
			{Value: "050 123 45 67", CanonicalForm: "+380501234567"},
		},
		EmailAddresses: []*people.EmailAddress{{Value: " p@example.com "}, {Value: "p@example.com"}},
		Addresses:      []*people.Address{{FormattedValue: "Вінниця"}},
	})
	assert.Equal(t, "people/c7", rec.ID)
	assert.Equal(t, "Петро", rec.Name)
	assert.Equal(t, []string{"+380501234567"}, rec.Phones)
	assert.Equal(t, []string{"p@example.com"}, rec.Emails)
	assert.Equal(t, []string{"Вінниця"}, rec.Addresses)
}

func TestNewPeopleService_RequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := NewPeopleService(context.Background(), Credentials{ClientID: "id"})
	assert.Error(t, err)
}
