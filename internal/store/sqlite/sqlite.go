// Package sqlite is a store.Backend on a single SQLite file. Hashes and sets
// are two tables; each Exec runs in one transaction on the only connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anomalyd/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_hash (
	key   TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv_set (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
) WITHOUT ROWID;
`

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type Backend struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes transactions, which keeps SAdd deltas exact.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Pipeline() store.Pipeline { return &pipeline{db: b.db} }

func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type op func(ctx context.Context, tx *sql.Tx) error

type pipeline struct {
	db  *sql.DB
	ops []op
}

func (p *pipeline) HSet(key string, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		for f, v := range cp {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv_hash(key, field, value) VALUES(?,?,?)
				 ON CONFLICT(key, field) DO UPDATE SET value = excluded.value`,
				key, f, v,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *pipeline) HGetAll(key string) *store.MapStringStringCmd {
	cmd := &store.MapStringStringCmd{}
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT field, value FROM kv_hash WHERE key = ?`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		out := map[string]string{}
		for rows.Next() {
			var f, v string
			if err := rows.Scan(&f, &v); err != nil {
				return err
			}
			out[f] = v
		}
		cmd.SetVal(out)
		return rows.Err()
	})
	return cmd
}

func (p *pipeline) SAdd(key string, members ...string) *store.IntCmd {
	cmd := &store.IntCmd{}
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		var added int64
		for _, m := range ms {
			res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO kv_set(key, member) VALUES(?,?)`, key, m)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += n
		}
		cmd.SetVal(added)
		return nil
	})
	return cmd
}

func (p *pipeline) SRem(key string, members ...string) {
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		for _, m := range ms {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_set WHERE key = ? AND member = ?`, key, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *pipeline) SMembers(key string) *store.StringSliceCmd {
	cmd := &store.StringSliceCmd{}
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT member FROM kv_set WHERE key = ? ORDER BY member`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		out := []string{}
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return err
			}
			out = append(out, m)
		}
		cmd.SetVal(out)
		return rows.Err()
	})
	return cmd
}

func (p *pipeline) SIsMember(key, member string) *store.BoolCmd {
	cmd := &store.BoolCmd{}
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_set WHERE key = ? AND member = ?`, key, member).Scan(&n)
		if err != nil {
			return err
		}
		cmd.SetVal(n > 0)
		return nil
	})
	return cmd
}

func (p *pipeline) Del(keys ...string) {
	ks := append([]string(nil), keys...)
	p.ops = append(p.ops, func(ctx context.Context, tx *sql.Tx) error {
		for _, k := range ks {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_hash WHERE key = ?`, k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_set WHERE key = ?`, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *pipeline) Exec(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, o := range p.ops {
		if err := o(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	p.ops = nil
	return tx.Commit()
}
