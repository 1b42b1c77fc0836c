package notion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/crm-dedup/internal/resilience"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) GetPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	args := m.Called(ctx, dbID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Database), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10))
	assert.NotNil(t, c)

	unlimited := NewClient("test-token", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, unlimited.limiter)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
		status    int
	}{
		{"nil", nil, false, 0},
		{"rate limited", &notionapi.Error{Status: 429, Code: "rate_limited", Message: "slow down"}, true, 429},
		{"server error", &notionapi.Error{Status: 502, Code: "internal_server_error"}, true, 502},
		{"unavailable", &notionapi.Error{Status: 503, Code: "service_unavailable"}, true, 503},
		{"conflict", &notionapi.Error{Status: 409, Code: "conflict_error"}, true, 409},
		{"timeout", &notionapi.Error{Status: 408, Code: "request_timeout"}, true, 408},
		{"unauthorized", &notionapi.Error{Status: 401, Code: "unauthorized"}, false, 0},
		{"validation", &notionapi.Error{Status: 400, Code: "validation_error"}, false, 0},
		{"not found", &notionapi.Error{Status: 404, Code: "object_not_found"}, false, 0},
		{"retries exhausted", errors.New("retry 3 times, got status code 429"), true, 429},
		{"plain", errors.New("boom"), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.transient, resilience.IsTransient(got))
			assert.Equal(t, tt.status, resilience.StatusCode(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Wrapped(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("query: %w", &notionapi.Error{Status: 500, Code: "internal_server_error"})
	assert.True(t, resilience.IsTransient(Classify(err)))
}
