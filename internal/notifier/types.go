package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
)

// Config controls throttling and retries for all channels.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Timeout bounds one send attempt.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Channel delivers to one kind of destination.
type Channel interface {
	Send(ctx context.Context, dest *url.URL, t model.Target, msg digest.Message) error
}

var ErrUnsupportedDestination = errors.New("notifier: unsupported destination")

// SendError is a non-success answer from a destination.
type SendError struct {
	Status int
	Body   string
}

func (e *SendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("send failed: status %d", e.Status)
	}
	return fmt.Sprintf("send failed: status %d: %s", e.Status, e.Body)
}

type HistoryItem struct {
	At     time.Time
	Target string
	Text   string
	Error  string
}
