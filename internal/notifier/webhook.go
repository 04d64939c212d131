package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
)

// Webhook posts Block Kit payloads to chat incoming-webhook URLs.
type Webhook struct {
	Client *http.Client
}

func NewWebhook() *Webhook {
	return &Webhook{Client: &http.Client{}}
}

type webhookPayload struct {
	Text      string         `json:"text"`
	Blocks    []digest.Block `json:"blocks"`
	Username  string         `json:"username,omitempty"`
	IconEmoji string         `json:"icon_emoji,omitempty"`
}

func (w *Webhook) Send(ctx context.Context, dest *url.URL, t model.Target, msg digest.Message) error {
	body, err := json.Marshal(webhookPayload{
		Text:      msg.Text,
		Blocks:    msg.Blocks,
		Username:  t.Name,
		IconEmoji: t.Icon,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return classifyStatus(resp.StatusCode, strings.TrimSpace(string(snippet)), retryAfter(resp.Header.Get("Retry-After")))
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
