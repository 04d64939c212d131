// Package natsbridge forwards in-memory bus events to NATS subjects so other
// services can follow report and digest lifecycles.
package natsbridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"anomalyd/internal/eventbus"
	"anomalyd/pkg/logx"
)

// DefaultPrefix is prepended to event types when no prefix is configured.
const DefaultPrefix = "anomalyd"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("anomalyd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Bridge copies every bus event to "{prefix}.{event type}".
type Bridge struct {
	pub    Publisher
	prefix string
	log    logx.Logger
}

func New(pub Publisher, prefix string, log logx.Logger) *Bridge {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bridge{pub: pub, prefix: prefix, log: log.With(logx.String("comp", "natsbridge"))}
}

// Subject returns the subject an event type is published on.
func (b *Bridge) Subject(eventType string) string { return b.prefix + "." + eventType }

// Run forwards events until ctx is done. Publish failures are logged, at most
// one warning per minute.
func (b *Bridge) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()

	var lastWarn time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.forward(e); err != nil && time.Since(lastWarn) > time.Minute {
				lastWarn = time.Now()
				b.log.Warn("nats publish failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

func (b *Bridge) forward(e eventbus.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.pub.Publish(b.Subject(e.Type), data)
}
