package redis

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"anomalyd/internal/store"
	"anomalyd/internal/store/storetest"
)

func newMiniredis(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := Open(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		b, _ := newMiniredis(t)
		return b
	})
}

// TestConformanceLive repeats the suite against a real server when
// ANOMALYD_TEST_REDIS holds its address; each test gets a flushed DB 15.
func TestConformanceLive(t *testing.T) {
	addr := os.Getenv("ANOMALYD_TEST_REDIS")
	if addr == "" {
		t.Skip("ANOMALYD_TEST_REDIS not set")
	}
	storetest.Run(t, func(t *testing.T) store.Backend {
		b, err := Open(context.Background(), Config{Addr: addr, DB: 15})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := b.rdb.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("FlushDB: %v", err)
		}
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestTransactionMapsResultsInOrder(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredis(t)

	p := b.Pipeline()
	p.HSet("target:a", map[string]string{"targetId": "a", "name": "ops"})
	first := p.SAdd("targetIdIndex:Targets", "a")
	again := p.SAdd("targetIdIndex:Targets", "a", "b")
	member := p.SIsMember("targetIdIndex:Targets", "b")
	h := p.HGetAll("target:a")
	if err := p.Exec(ctx); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if first.Val() != 1 || again.Val() != 1 || !member.Val() {
		t.Fatalf("SAdd deltas = %d,%d member = %v; want 1,1,true", first.Val(), again.Val(), member.Val())
	}
	if h.Val()["name"] != "ops" {
		t.Fatalf("HGetAll = %v, want name=ops", h.Val())
	}
	if ok, _ := mr.IsMember("targetIdIndex:Targets", "b"); !ok {
		t.Fatal("server set is missing b")
	}
}

func TestExecFailsWhenServerGone(t *testing.T) {
	b, mr := newMiniredis(t)
	mr.Close()

	p := b.Pipeline()
	cmd := p.SAdd("s", "x")
	if err := p.Exec(context.Background()); err == nil {
		t.Fatal("Exec succeeded against a closed server")
	}
	if cmd.Val() != 0 {
		t.Fatalf("SAdd result = %d after failed Exec, want 0", cmd.Val())
	}
}

func TestOpenRequiresAddr(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
