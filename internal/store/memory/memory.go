// Package memory is an in-process store.Backend. Each Exec runs under one
// lock, so a pipeline is atomic with respect to every other pipeline.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"anomalyd/internal/store"
)

var errClosed = errors.New("memory backend closed")

type Backend struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	closed bool
}

func New() *Backend {
	return &Backend{
		hashes: map[string]map[string]string{},
		sets:   map[string]map[string]struct{}{},
	}
}

func (b *Backend) Pipeline() store.Pipeline { return &pipeline{b: b} }

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type pipeline struct {
	b   *Backend
	ops []func()
}

func (p *pipeline) HSet(key string, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	p.ops = append(p.ops, func() {
		h := p.b.hashes[key]
		if h == nil {
			h = make(map[string]string, len(cp))
			p.b.hashes[key] = h
		}
		for k, v := range cp {
			h[k] = v
		}
	})
}

func (p *pipeline) HGetAll(key string) *store.MapStringStringCmd {
	cmd := &store.MapStringStringCmd{}
	p.ops = append(p.ops, func() {
		h := p.b.hashes[key]
		out := make(map[string]string, len(h))
		for k, v := range h {
			out[k] = v
		}
		cmd.SetVal(out)
	})
	return cmd
}

func (p *pipeline) SAdd(key string, members ...string) *store.IntCmd {
	cmd := &store.IntCmd{}
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func() {
		s := p.b.sets[key]
		if s == nil {
			s = make(map[string]struct{}, len(ms))
			p.b.sets[key] = s
		}
		var added int64
		for _, m := range ms {
			if _, ok := s[m]; !ok {
				s[m] = struct{}{}
				added++
			}
		}
		cmd.SetVal(added)
	})
	return cmd
}

func (p *pipeline) SRem(key string, members ...string) {
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func() {
		s := p.b.sets[key]
		for _, m := range ms {
			delete(s, m)
		}
		if len(s) == 0 {
			delete(p.b.sets, key)
		}
	})
}

func (p *pipeline) SMembers(key string) *store.StringSliceCmd {
	cmd := &store.StringSliceCmd{}
	p.ops = append(p.ops, func() {
		s := p.b.sets[key]
		out := make([]string, 0, len(s))
		for m := range s {
			out = append(out, m)
		}
		sort.Strings(out)
		cmd.SetVal(out)
	})
	return cmd
}

func (p *pipeline) SIsMember(key, member string) *store.BoolCmd {
	cmd := &store.BoolCmd{}
	p.ops = append(p.ops, func() {
		_, ok := p.b.sets[key][member]
		cmd.SetVal(ok)
	})
	return cmd
}

func (p *pipeline) Del(keys ...string) {
	ks := append([]string(nil), keys...)
	p.ops = append(p.ops, func() {
		for _, k := range ks {
			delete(p.b.hashes, k)
			delete(p.b.sets, k)
		}
	})
}

func (p *pipeline) Exec(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.closed {
		return errClosed
	}
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil
}
