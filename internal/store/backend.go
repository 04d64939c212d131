package store

import "context"

// Backend is the hash/set persistence protocol. Implementations live in the
// memory, sqlite and redis subpackages.
type Backend interface {
	Pipeline() Pipeline
	Close() error
}

// Pipeline stages commands and applies them atomically on Exec.
// Command results are only valid after Exec returns nil.
type Pipeline interface {
	HSet(key string, fields map[string]string)
	HGetAll(key string) *MapStringStringCmd
	// SAdd reports how many members were newly added.
	SAdd(key string, members ...string) *IntCmd
	SRem(key string, members ...string)
	SMembers(key string) *StringSliceCmd
	SIsMember(key, member string) *BoolCmd
	Del(keys ...string)
	Exec(ctx context.Context) error
}

type IntCmd struct {
	val int64
	err error
}

func (c *IntCmd) Val() int64             { return c.val }
func (c *IntCmd) Err() error             { return c.err }
func (c *IntCmd) SetVal(v int64)         { c.val = v }
func (c *IntCmd) SetErr(err error)       { c.err = err }
func (c *IntCmd) Result() (int64, error) { return c.val, c.err }

type BoolCmd struct {
	val bool
	err error
}

func (c *BoolCmd) Val() bool             { return c.val }
func (c *BoolCmd) Err() error            { return c.err }
func (c *BoolCmd) SetVal(v bool)         { c.val = v }
func (c *BoolCmd) SetErr(err error)      { c.err = err }
func (c *BoolCmd) Result() (bool, error) { return c.val, c.err }

type StringSliceCmd struct {
	val []string
	err error
}

func (c *StringSliceCmd) Val() []string             { return c.val }
func (c *StringSliceCmd) Err() error                { return c.err }
func (c *StringSliceCmd) SetVal(v []string)         { c.val = v }
func (c *StringSliceCmd) SetErr(err error)          { c.err = err }
func (c *StringSliceCmd) Result() ([]string, error) { return c.val, c.err }

type MapStringStringCmd struct {
	val map[string]string
	err error
}

func (c *MapStringStringCmd) Val() map[string]string             { return c.val }
func (c *MapStringStringCmd) Err() error                         { return c.err }
func (c *MapStringStringCmd) SetVal(v map[string]string)         { c.val = v }
func (c *MapStringStringCmd) SetErr(err error)                   { c.err = err }
func (c *MapStringStringCmd) Result() (map[string]string, error) { return c.val, c.err }
