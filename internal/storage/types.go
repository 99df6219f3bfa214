// Package storage provides the small key/value persistence layer used for
// user preferences and other client-side flags.
//
// Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file":   JSON snapshot + append-only journal, compacted periodically
//   - "sqlite": single kv table in a SQLite database file
//   - "redis":  plain GET/SET on a (prefixed) redis keyspace
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: closed")
)

// Store is the minimal persistence API used by the preference store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// If Driver is empty or "none", the memory driver is used.
type Config struct {
	Driver string
	Path   string // file/sqlite

	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr     string // redis
	Password string // redis
	DB       int    // redis
	Prefix   string // redis key prefix; default "notisync:"
}
