package storage

import (
	"context"
	"errors"
	"strings"

	"anomalyd/internal/store"
	"anomalyd/internal/store/memory"
	"anomalyd/internal/store/redis"
	"anomalyd/internal/store/sqlite"
	logx "anomalyd/pkg/logx"
)

// Open initializes the configured backend.
func Open(ctx context.Context, cfg Config, log logx.Logger) (store.Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	case "sqlite", "sqlite3":
		b, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout})
		if err != nil {
			return nil, err
		}
		log.Info("store opened", logx.String("driver", "sqlite"), logx.String("path", cfg.Path))
		return b, nil
	case "redis":
		b, err := redis.Open(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		log.Info("store opened", logx.String("driver", "redis"), logx.String("addr", cfg.RedisAddr))
		return b, nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
