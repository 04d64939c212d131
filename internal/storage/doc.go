// Package storage opens the configured store.Backend.
//
// Drivers:
//   - "memory" (or empty): process-local, lost on restart
//   - "sqlite": single file, see store/sqlite
//   - "redis": shared server, see store/redis
package storage
