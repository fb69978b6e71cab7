package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTelegramURL = "https://api.telegram.org"

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Telegram posts messages to one chat through the Bot API. A Telegram with
// no token is a no-op.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegram(token, chatID, baseURL string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		token:   strings.TrimSpace(token),
		chatID:  strings.TrimSpace(chatID),
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

func (t *Telegram) Notify(ctx context.Context, msg string) error {
	if !t.Enabled() {
		return nil
	}
	payload, err := json.Marshal(sendMessage{ChatID: t.chatID, Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed sendMessageResponse
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && !parsed.OK {
		return fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))
	}
	return nil
}

type sendMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Format renders an event and its fields as one line per field, keys
// sorted by the caller's order.
func Format(event string, fields [][2]string) string {
	var b strings.Builder
	b.WriteString("[spot-connect] ")
	b.WriteString(event)
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(f[0])
		b.WriteString(": ")
		b.WriteString(f[1])
	}
	return b.String()
}
