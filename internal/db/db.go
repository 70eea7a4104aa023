package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
type Store interface {
	Pinger
	HashStore
	KVStore
	ScriptRunner
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore provides simple key-value reads.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Script is a server-side Lua script. Scripts are loaded once per store and invoked by
// hash afterwards.
type Script struct {
	Name   string
	Source string
}

// ScriptRunner executes scripts atomically on the server.
type ScriptRunner interface {
	// EvalInt runs the script and returns its integer reply.
	EvalInt(ctx context.Context, s *Script, keys, args []string) (int64, error)
}
