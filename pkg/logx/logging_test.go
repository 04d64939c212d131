package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (c *captureSender) SendAlert(ctx context.Context, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestAlertText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		line string
		want string
	}{
		{
			name: "fields sorted",
			line: `{"level":"error","message":"send failed","target":"ops","comp":"dispatch","job":"j1","time":"x","caller":"dispatch.go:10"}` + "\n",
			want: "[ERROR] dispatch: send failed\njob=j1\ntarget=ops",
		},
		{name: "no comp", line: `{"level":"warn","message":"slow"}`, want: "[WARN] slow"},
		{name: "not json", line: "  plain text \n", want: "plain text"},
	}
	for _, tc := range cases {
		if got := alertText([]byte(tc.line)); got != tc.want {
			t.Fatalf("%s: alertText = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAlertSinkForwardsErrorsOnly(t *testing.T) {
	sender := &captureSender{got: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 10}}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("routine")
	log.Error("boom", String("comp", "test"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sender.msgs))
	}
	if !strings.HasPrefix(sender.msgs[0], "[ERROR] test: boom") {
		t.Fatalf("alert = %q", sender.msgs[0])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if l.With(String("k", "v")).IsZero() {
		t.Fatal("derived logger with fields should not be zero")
	}
}
