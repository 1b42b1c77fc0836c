package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedup/internal/config"
)

func TestTelegramSink_Notify(t *testing.T) {
	var got telegramRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok": true, "result": {}}`))
	}))
	defer srv.Close()

	sink := NewTelegram("123:abc", "-100500", WithBaseURL(srv.URL))
	err := sink.Notify(context.Background(), NewMessage(KindSummary, nil, "archived %d of %d", 3, 4))
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100500", got.ChatID)
	assert.Equal(t, "✅ archived 3 of 4", got.Text)
	assert.True(t, got.DisableWebPagePreview)
}

func TestTelegramSink_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	sink := NewTelegram("123:abc", "nope", WithBaseURL(srv.URL))
	err := sink.Notify(context.Background(), NewMessage(KindProgress, nil, "batch 1/2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramSink_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	sink := NewTelegram("secret-token", "1", WithBaseURL(srv.URL))
	err := sink.Notify(context.Background(), NewMessage(KindProgress, nil, "x"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestWebhookSink_Notify(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := NewMessage(KindProgress, map[string]any{"applied": 2}, "batch %d/%d", 1, 3)
	require.NoError(t, NewWebhook(srv.URL).Notify(context.Background(), msg))

	assert.Equal(t, KindProgress, got.Kind)
	assert.Equal(t, "batch 1/3", got.Text)
	assert.Equal(t, float64(2), got.Details["applied"])
	assert.False(t, got.Timestamp.IsZero())
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), NewMessage(KindFailure, nil, "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (c *countingSink) Notify(context.Context, Message) error {
	c.calls.Add(1)
	return c.err
}

func TestMulti_TriesEverySink(t *testing.T) {
	t.Parallel()
	failing := &countingSink{err: errors.New("down")}
	ok := &countingSink{}

	err := Multi{failing, ok}.Notify(context.Background(), NewMessage(KindProgress, nil, "x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), ok.calls.Load())

	assert.NoError(t, Multi{ok}.Notify(context.Background(), NewMessage(KindProgress, nil, "y")))
}

func TestNew(t *testing.T) {
	t.Parallel()

	assert.IsType(t, Nop{}, New(config.NotifyConfig{}))
	assert.IsType(t, Nop{}, New(config.NotifyConfig{TelegramToken: "t"}), "chat id required")
	assert.IsType(t, &WebhookSink{}, New(config.NotifyConfig{WebhookURL: "http://hook"}))
	assert.IsType(t, &TelegramSink{}, New(config.NotifyConfig{TelegramToken: "t", TelegramChatID: "1"}))
	assert.IsType(t, Multi{}, New(config.NotifyConfig{TelegramToken: "t", TelegramChatID: "1", WebhookURL: "http://hook"}))
	assert.NoError(t, Nop{}.Notify(context.Background(), Message{}))
}
