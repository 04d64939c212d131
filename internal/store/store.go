package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// releaseTimeout bounds the batch that gives back a claimed id after a
// failed record write.
const releaseTimeout = 5 * time.Second

// Store persists one entity kind. It holds no state besides its Backend and
// layout, so it is safe for concurrent use whenever the Backend is.
type Store[T any] struct {
	b    Backend
	kind Kind[T]
}

func New[T any](b Backend, kind Kind[T]) *Store[T] {
	if kind.ID == nil {
		panic(fmt.Sprintf("store: kind %q has no ID accessor", kind.Name))
	}
	return &Store[T]{b: b, kind: kind}
}

func (s *Store[T]) Backend() Backend { return s.b }

// RecordKey returns "{kind}:{id}".
func (s *Store[T]) RecordKey(id string) string { return s.kind.recordKey(id) }

// Stage adds the writes for v to p: the record fields, the id existence index,
// the record's own indices, and any extra index keys.
func (s *Store[T]) Stage(p Pipeline, v *T, extraIndices ...string) {
	id := s.kind.ID(v)
	p.HSet(s.kind.recordKey(id), s.kind.encode(v))
	p.SAdd(s.kind.IDIndex, id)
	for _, key := range s.kind.indices(v) {
		p.SAdd(key, id)
	}
	for _, key := range extraIndices {
		p.SAdd(key, id)
	}
}

// Put overwrites the record and adds it to every index it belongs to.
func (s *Store[T]) Put(ctx context.Context, v T, extraIndices ...string) error {
	p := s.b.Pipeline()
	s.Stage(p, &v, extraIndices...)
	return persistErr("put", s.kind.recordKey(s.kind.ID(&v)), p.Exec(ctx))
}

// Assoc is a set membership written together with PutIfAbsent.
type Assoc struct {
	Key    string
	Member string
}

// PutIfAbsent claims id in the existence index. Only the caller whose set-add
// actually inserted id runs factory and writes the record, so concurrent
// callers for one id invoke factory exactly once. The associations are added
// regardless. created reports whether this call wrote the record.
//
// When the record write fails the claim is released, so the id is never left
// indexed without a record and a later call can create it.
func (s *Store[T]) PutIfAbsent(ctx context.Context, id string, factory func() T, assocs ...Assoc) (created bool, err error) {
	key := s.kind.recordKey(id)
	p := s.b.Pipeline()
	added := p.SAdd(s.kind.IDIndex, id)
	for _, a := range assocs {
		p.SAdd(a.Key, a.Member)
	}
	if err := p.Exec(ctx); err != nil {
		return false, persistErr("put-if-absent", key, err)
	}
	if added.Val() != 1 {
		return false, nil
	}

	v := factory()
	if got := s.kind.ID(&v); got != id {
		err := fmt.Errorf("store: factory for %s returned id %q", key, got)
		return false, errors.Join(err, s.release(ctx, id))
	}
	p = s.b.Pipeline()
	s.Stage(p, &v)
	if err := p.Exec(ctx); err != nil {
		return false, errors.Join(persistErr("put-if-absent", key, err), s.release(ctx, id))
	}
	return true, nil
}

// release undoes a PutIfAbsent claim. It runs detached from ctx so a canceled
// caller still gives the id back.
func (s *Store[T]) release(ctx context.Context, id string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	p := s.b.Pipeline()
	p.SRem(s.kind.IDIndex, id)
	p.Del(s.kind.recordKey(id))
	return persistErr("put-if-absent-release", s.kind.recordKey(id), p.Exec(rctx))
}

// Get returns the record, or ErrNotFound when it has no fields or its id is
// not in the existence index. Stale fields of an unindexed id are ignored.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	key := s.kind.recordKey(id)
	p := s.b.Pipeline()
	exists := p.SIsMember(s.kind.IDIndex, id)
	cmd := p.HGetAll(key)
	if err := p.Exec(ctx); err != nil {
		var zero T
		return zero, persistErr("get", key, err)
	}
	if !exists.Val() || len(cmd.Val()) == 0 {
		var zero T
		return zero, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	v, err := s.kind.decode(cmd.Val())
	if err != nil {
		return v, persistErr("decode", key, err)
	}
	return v, nil
}

// GetAll returns every record in the existence index.
func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.GetAllByIndex(ctx, s.kind.IDIndex)
}

// GetAllByIndex returns the records whose ids are members of the index set.
// Ids without a record (claimed but not yet written, or dangling) are skipped.
func (s *Store[T]) GetAllByIndex(ctx context.Context, indexKey string) ([]T, error) {
	ids, err := s.Members(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	return s.GetMany(ctx, ids)
}

// GetMany loads ids in one batch, in the given order, skipping missing and
// unindexed records.
func (s *Store[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	p := s.b.Pipeline()
	cmds := make([]*MapStringStringCmd, len(ids))
	exists := make([]*BoolCmd, len(ids))
	for i, id := range ids {
		exists[i] = p.SIsMember(s.kind.IDIndex, id)
		cmds[i] = p.HGetAll(s.kind.recordKey(id))
	}
	if err := p.Exec(ctx); err != nil {
		return nil, persistErr("get-many", s.kind.Name, err)
	}
	out := make([]T, 0, len(ids))
	for i, cmd := range cmds {
		if !exists[i].Val() || len(cmd.Val()) == 0 {
			continue
		}
		v, err := s.kind.decode(cmd.Val())
		if err != nil {
			return nil, persistErr("decode", s.kind.recordKey(ids[i]), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Members lists an index set.
func (s *Store[T]) Members(ctx context.Context, indexKey string) ([]string, error) {
	p := s.b.Pipeline()
	cmd := p.SMembers(indexKey)
	if err := p.Exec(ctx); err != nil {
		return nil, persistErr("members", indexKey, err)
	}
	return cmd.Val(), nil
}

// RemoveOptions lists what else a Remove batch touches.
type RemoveOptions struct {
	// FromIndices are index sets the id is removed from, in addition to the
	// existence index.
	FromIndices []string
	// DropKeys are whole keys deleted with the record (e.g. the record's own
	// association sets).
	DropKeys []string
}

// Remove deletes the record and its index memberships in one batch.
func (s *Store[T]) Remove(ctx context.Context, id string, opt RemoveOptions) error {
	p := s.b.Pipeline()
	s.StageRemove(p, id, opt)
	return persistErr("remove", s.kind.recordKey(id), p.Exec(ctx))
}

// StageRemove adds the deletes of Remove to p so several removals can share a batch.
func (s *Store[T]) StageRemove(p Pipeline, id string, opt RemoveOptions) {
	p.SRem(s.kind.IDIndex, id)
	for _, idx := range opt.FromIndices {
		p.SRem(idx, id)
	}
	p.Del(append([]string{s.kind.recordKey(id)}, opt.DropKeys...)...)
}

// AddToIndex adds ids to an index set.
func (s *Store[T]) AddToIndex(ctx context.Context, indexKey string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	p := s.b.Pipeline()
	p.SAdd(indexKey, ids...)
	return persistErr("index-add", indexKey, p.Exec(ctx))
}

// RemoveFromIndex removes ids from an index set.
func (s *Store[T]) RemoveFromIndex(ctx context.Context, indexKey string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	p := s.b.Pipeline()
	p.SRem(indexKey, ids...)
	return persistErr("index-remove", indexKey, p.Exec(ctx))
}

// Exec applies a caller-built pipeline, wrapping failures like every other Store op.
func Exec(ctx context.Context, op string, p Pipeline) error {
	return persistErr(op, "", p.Exec(ctx))
}
