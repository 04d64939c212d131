package store

import "fmt"

// Field binds one persisted field name to accessors on T.
type Field[T any] struct {
	Name string
	Get  func(v *T) string
	Set  func(v *T, raw string) error
}

// Kind describes how one entity type is laid out.
type Kind[T any] struct {
	// Name prefixes record keys ("target" -> "target:{id}").
	Name string
	// IDIndex is the existence set of every id of this kind.
	IDIndex string
	Fields  []Field[T]
	ID      func(v *T) string
	// Indices returns the secondary index keys a record belongs to, derived
	// from its own fields. May be nil.
	Indices func(v *T) []string
}

// Key joins an index or entity kind with its selector.
func Key(kind, selector string) string { return kind + ":" + selector }

func (k Kind[T]) recordKey(id string) string { return Key(k.Name, id) }

func (k Kind[T]) encode(v *T) map[string]string {
	m := make(map[string]string, len(k.Fields))
	for _, f := range k.Fields {
		m[f.Name] = f.Get(v)
	}
	return m
}

// decode binds by field name. Unknown fields are ignored; missing fields keep
// the zero value.
func (k Kind[T]) decode(m map[string]string) (T, error) {
	var v T
	for _, f := range k.Fields {
		raw, ok := m[f.Name]
		if !ok {
			continue
		}
		if err := f.Set(&v, raw); err != nil {
			return v, fmt.Errorf("%s field %s: %w", k.Name, f.Name, err)
		}
	}
	return v, nil
}

func (k Kind[T]) indices(v *T) []string {
	if k.Indices == nil {
		return nil
	}
	return k.Indices(v)
}
