// Package redis is a store.Backend on Redis. Every Exec is one MULTI/EXEC
// transaction, and SAdd deltas come straight from the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anomalyd/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Backend struct {
	rdb goredis.UniversalClient
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Backend{rdb: rdb}, nil
}

// NewFromClient wraps an existing client. Close closes it.
func NewFromClient(rdb goredis.UniversalClient) *Backend {
	return &Backend{rdb: rdb}
}

func (b *Backend) Pipeline() store.Pipeline { return &pipeline{rdb: b.rdb} }

func (b *Backend) Close() error { return b.rdb.Close() }

// queued adds a command to pipe and returns a func that copies its result
// into the store command once the transaction has executed.
type queued func(ctx context.Context, pipe goredis.Pipeliner) (resolve func())

type pipeline struct {
	rdb goredis.UniversalClient
	ops []queued
}

func (p *pipeline) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		pipe.HSet(ctx, key, values)
		return nil
	})
}

func (p *pipeline) HGetAll(key string) *store.MapStringStringCmd {
	cmd := &store.MapStringStringCmd{}
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		c := pipe.HGetAll(ctx, key)
		return func() { cmd.SetVal(c.Val()); cmd.SetErr(c.Err()) }
	})
	return cmd
}

func (p *pipeline) SAdd(key string, members ...string) *store.IntCmd {
	cmd := &store.IntCmd{}
	if len(members) == 0 {
		return cmd
	}
	args := toArgs(members)
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		c := pipe.SAdd(ctx, key, args...)
		return func() { cmd.SetVal(c.Val()); cmd.SetErr(c.Err()) }
	})
	return cmd
}

func (p *pipeline) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := toArgs(members)
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		pipe.SRem(ctx, key, args...)
		return nil
	})
}

func (p *pipeline) SMembers(key string) *store.StringSliceCmd {
	cmd := &store.StringSliceCmd{}
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		c := pipe.SMembers(ctx, key)
		return func() { cmd.SetVal(c.Val()); cmd.SetErr(c.Err()) }
	})
	return cmd
}

func (p *pipeline) SIsMember(key, member string) *store.BoolCmd {
	cmd := &store.BoolCmd{}
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		c := pipe.SIsMember(ctx, key, member)
		return func() { cmd.SetVal(c.Val()); cmd.SetErr(c.Err()) }
	})
	return cmd
}

func (p *pipeline) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	ks := append([]string(nil), keys...)
	p.ops = append(p.ops, func(ctx context.Context, pipe goredis.Pipeliner) func() {
		pipe.Del(ctx, ks...)
		return nil
	})
}

func (p *pipeline) Exec(ctx context.Context) error {
	if len(p.ops) == 0 {
		return ctx.Err()
	}
	resolvers := make([]func(), 0, len(p.ops))
	_, err := p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, o := range p.ops {
			if r := o(ctx, pipe); r != nil {
				resolvers = append(resolvers, r)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range resolvers {
		r()
	}
	p.ops = nil
	return nil
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
