package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
	"anomalyd/internal/task/engine"
	"anomalyd/pkg/logx"
)

const historySize = 300

// Service routes sends to channels by destination scheme, with a shared rate
// limit and retry policy. It is safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	channels map[string]Channel
	rng      *rand.Rand
	log      logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		channels: map[string]Channel{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log.With(logx.String("comp", "notifier")),
	}
	s.applyLocked(cfg)
	return s
}

// Register binds a channel to a URL scheme ("https", "telegram").
func (s *Service) Register(scheme string, ch Channel) {
	s.mu.Lock()
	s.channels[strings.ToLower(scheme)] = ch
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Send delivers msg to t, retrying transient failures. The last error is
// returned when every attempt failed.
func (s *Service) Send(ctx context.Context, t model.Target, msg digest.Message) error {
	dest, err := url.Parse(strings.TrimSpace(t.Destination))
	if err != nil {
		return engine.NoRetry(fmt.Errorf("target %s destination: %w", t.ID, err))
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ch := s.channels[strings.ToLower(dest.Scheme)]
	s.mu.Unlock()
	if ch == nil {
		return engine.NoRetry(fmt.Errorf("%w: %q", ErrUnsupportedDestination, dest.Scheme))
	}

	backoff := engine.Backoff{Base: cfg.RetryBase, Max: cfg.RetryMaxDelay, Jitter: 0.3}
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := ch.Send(callCtx, dest, t, msg)
		cancel()
		if err == nil {
			s.appendHistory(t.ID, msg.Text, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("send attempt failed",
			logx.String("target", t.ID),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err),
		)
		if engine.IsNoRetry(err) || attempt >= attempts || ctx.Err() != nil {
			break
		}
		if !engine.Sleep(ctx, backoff.Delay(attempt, err, s.random())) {
			break
		}
	}
	s.appendHistory(t.ID, msg.Text, lastErr)
	return lastErr
}

func (s *Service) random() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	// math/rand.Rand is not safe for concurrent use; hand out a derived one.
	return rand.New(rand.NewSource(s.rng.Int63()))
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(target, text string, err error) {
	item := HistoryItem{At: time.Now(), Target: target, Text: text}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// classifyStatus wraps a non-2xx answer with the retry policy it deserves.
func classifyStatus(status int, body string, retryAfter time.Duration) error {
	err := &SendError{Status: status, Body: body}
	switch {
	case status == 429:
		return engine.RetryAfter(err, retryAfter)
	case status >= 400 && status < 500:
		return engine.NoRetry(err)
	default:
		return err
	}
}

// IsSendError reports whether err carries a destination answer.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}
