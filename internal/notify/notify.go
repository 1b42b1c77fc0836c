// Package notify delivers progress and summary messages of a dedup run to
// staff channels. Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sells-group/crm-dedup/internal/config"
)

// Kind identifies the kind of message.
type Kind string

const (
	KindProgress Kind = "progress"
	KindSummary  Kind = "summary"
	KindFailure  Kind = "failure"
)

// Message is a single notification.
type Message struct {
	Kind      Kind           `json:"kind"`
	Text      string         `json:"text"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(kind Kind, details map[string]any, format string, args ...any) Message {
	return Message{
		Kind:      kind,
		Text:      fmt.Sprintf(format, args...),
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Multi fans a message out to several sinks. Every sink is tried; the
// returned error joins the individual failures.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the sinks enabled in cfg. It returns Nop when none is.
func New(cfg config.NotifyConfig) Sink {
	client := &http.Client{Timeout: 10 * time.Second}

	var sinks Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, WithHTTPClient(client)))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhook(cfg.WebhookURL, WithHTTPClient(client)))
	}
	switch len(sinks) {
	case 0:
		return Nop{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// Option configures the HTTP sinks.
type Option func(*httpSink)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *httpSink) { s.client = c }
}

// WithBaseURL points the Telegram sink at another Bot API host.
func WithBaseURL(u string) Option {
	return func(s *httpSink) { s.baseURL = u }
}

type httpSink struct {
	client  *http.Client
	baseURL string
}

func newHTTPSink(baseURL string, opts []Option) httpSink {
	s := httpSink{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
