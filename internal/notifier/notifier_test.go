package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
	"anomalyd/internal/task/engine"
	"anomalyd/pkg/logx"
)

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, Timeout: time.Second}
}

func newService(t *testing.T) *Service {
	t.Helper()
	s := New(fastConfig(), logx.Nop())
	s.Register("http", NewWebhook())
	s.Register("https", NewWebhook())
	return s
}

var msg = digest.Message{
	Text:   "Anomaly Report for t1",
	Blocks: []digest.Block{{Type: digest.BlockDivider}},
}

func TestWebhookPostsBlocks(t *testing.T) {
	t.Parallel()
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newService(t)
	tg := model.Target{ID: "t1", Destination: srv.URL + "/hook", Name: "ops", Icon: ":bell:"}
	if err := s.Send(context.Background(), tg, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Text != msg.Text || len(got.Blocks) != 1 || got.Username != "ops" || got.IconEmoji != ":bell:" {
		t.Fatalf("payload = %+v", got)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Target != "t1" || h[0].Error != "" {
		t.Fatalf("Snapshot() = %+v", h)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newService(t)
	if err := s.Send(context.Background(), model.Target{ID: "t1", Destination: srv.URL}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no_team", http.StatusNotFound)
	}))
	defer srv.Close()

	s := newService(t)
	err := s.Send(context.Background(), model.Target{ID: "t1", Destination: srv.URL}, msg)
	var se *SendError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Body != "no_team" {
		t.Fatalf("Send() err = %v, want SendError 404", err)
	}
	if !engine.IsNoRetry(err) {
		t.Fatalf("IsNoRetry(%v) = false, want true", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Error == "" {
		t.Fatalf("Snapshot() = %+v, want failed item", h)
	}
}

func TestTooManyRequestsCarriesRetryAfter(t *testing.T) {
	t.Parallel()
	err := classifyStatus(http.StatusTooManyRequests, "", retryAfter("7"))
	var ra engine.RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != 7*time.Second {
		t.Fatalf("classifyStatus(429) = %v, want retry after 7s", err)
	}
	if engine.IsNoRetry(err) {
		t.Fatalf("429 marked as permanent")
	}
}

func TestUnsupportedScheme(t *testing.T) {
	t.Parallel()
	s := newService(t)
	err := s.Send(context.Background(), model.Target{ID: "t1", Destination: "mailto:ops@example.com"}, msg)
	if !errors.Is(err, ErrUnsupportedDestination) {
		t.Fatalf("Send() err = %v, want ErrUnsupportedDestination", err)
	}
}

func TestParseChat(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw    string
		chat   int64
		thread int
		ok     bool
	}{
		{"telegram://-100123", -100123, 0, true},
		{"telegram://42/7", 42, 7, true},
		{"telegram://abc", 0, 0, false},
		{"telegram://42/x", 0, 0, false},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.raw)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", tc.raw, err)
		}
		chat, thread, err := ParseChat(u)
		if (err == nil) != tc.ok || chat != tc.chat || thread != tc.thread {
			t.Fatalf("ParseChat(%q) = %d, %d, %v", tc.raw, chat, thread, err)
		}
	}
}

func TestTelegramSendsPlainText(t *testing.T) {
	t.Parallel()
	var gotText, gotChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["text"].(string); ok {
			gotText = v
		}
		if v, ok := body["chat_id"].(string); ok {
			gotChat = v
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"group"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", srv.URL)
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	s := New(fastConfig(), logx.Nop())
	s.Register("telegram", tg)
	if err := s.Send(context.Background(), model.Target{ID: "t1", Destination: "telegram://42", Name: "ops"}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotChat != "42" || gotText == "" {
		t.Fatalf("sent chat=%q text=%q", gotChat, gotText)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	if got := clip("hello", 10); got != "hello" {
		t.Fatalf("clip() = %q", got)
	}
	if got := clip("héllo world", 6); len(got) > 6 {
		t.Fatalf("clip() = %q, longer than 6 bytes", got)
	}
}

func TestAlertSender(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var sender logx.AlertSender = NewAlertSender(newService(t), srv.URL)
	if err := sender.SendAlert(context.Background(), "ERROR boom"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}
