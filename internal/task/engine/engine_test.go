package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	logx "anomalyd/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	s := startEngine(t, Config{Workers: 2})
	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "job", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if ran.Load() != 1 {
		t.Fatalf("ran = %d, want 1", ran.Load())
	}
}

func TestRetryStopsOnNoRetry(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{Backoff: Backoff{Base: time.Millisecond, Max: time.Millisecond}},
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if h := s.Snapshot().History[0]; h.Error == "" || h.Attempts != 1 {
		t.Fatalf("history = %+v, want one failed attempt", h)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != "" || h.Attempts != 3 {
		t.Fatalf("history = %+v, want success after 3 attempts", h)
	}
}

func TestSkipIfRunningGatesSameKey(t *testing.T) {
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	block := Task{
		Name: "detect",
		Key:  "job:a",
		Opt:  TaskOptions{SkipIfRunning: true},
		Run: func(ctx context.Context) error {
			<-release
			return nil
		},
	}
	if err := s.Enqueue(block); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := s.Enqueue(block); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue = %v, want ErrOverlapSkip", err)
	}
	other := block
	other.Key = "job:b"
	if err := s.Enqueue(other); err != nil {
		t.Fatalf("other key Enqueue: %v", err)
	}
	close(release)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })
	if err := s.Enqueue(block); err != nil {
		t.Fatalf("Enqueue after completion: %v", err)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue = %v, want ErrStopped", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})
	_ = s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("oops") }})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error == "" {
		t.Fatalf("history = %+v, want panic error", h)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.01}
	cases := []struct {
		attempt int
		err     error
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 10, want: time.Second},
		{attempt: 1, err: RetryAfter(errors.New("429"), 700*time.Millisecond), want: 700 * time.Millisecond},
		{attempt: 1, err: RetryAfter(errors.New("429"), time.Hour), want: time.Second},
	}
	for _, tc := range cases {
		got := b.Delay(tc.attempt, tc.err, nil)
		if got != tc.want {
			t.Fatalf("Delay(%d, %v) = %v, want %v", tc.attempt, tc.err, got, tc.want)
		}
	}

	rng := rand.New(rand.NewSource(1))
	if got := b.Delay(1, nil, rng); got < 99*time.Millisecond || got > 101*time.Millisecond {
		t.Fatalf("jittered Delay = %v, want ~100ms", got)
	}
}
