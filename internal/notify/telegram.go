package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramSink posts messages to a chat through the Bot API sendMessage
// method.
type TelegramSink struct {
	httpSink
	token  string
	chatID string
}

// NewTelegram creates a TelegramSink for the given bot token and chat.
func NewTelegram(token, chatID string, opts ...Option) *TelegramSink {
	return &TelegramSink{
		httpSink: newHTTPSink(telegramBaseURL, opts),
		token:    token,
		chatID:   chatID,
	}
}

type telegramRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (t *TelegramSink) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(telegramRequest{
		ChatID:                t.chatID,
		Text:                  telegramText(msg),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal telegram message")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return eris.New("notify: telegram request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return eris.Wrapf(err, "notify: decode telegram response (status %d)", resp.StatusCode)
	}
	if !body.OK {
		return eris.Errorf("notify: telegram returned %d: %s", body.ErrorCode, body.Description)
	}
	return nil
}

func telegramText(msg Message) string {
	switch msg.Kind {
	case KindFailure:
		return "⚠️ " + msg.Text
	case KindSummary:
		return "✅ " + msg.Text
	default:
		return msg.Text
	}
}
