// Package storage persists scrape results behind a backend-agnostic
// interface. Backends register themselves by kind; the engine itself never
// links a driver, only the command's chosen backend does.
package storage

import (
	"context"
	"fmt"
	"sync"

	"lienharvest/internal/assemble"
)

// Config is the minimal configuration needed to open a record store.
// Kind must match a registered backend kind; DSN validation is
// backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// RecordStore is the persistence boundary for scrape results.
//
// Upserts are keyed (case_number, tenant_id). The assembler already
// guarantees a run contains no duplicate case numbers, so a batch never
// conflicts with itself; conflicts with prior runs update the mutable
// columns in place (last write wins per column).
type RecordStore interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureSchema creates the record table if needed. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertRecords writes one run's records for a tenant and returns the
	// number of rows affected.
	UpsertRecords(ctx context.Context, tenantID string, records []assemble.Record) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (RecordStore, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
// Call from an init() in a backend package.
//
// Panics on empty kind, nil factory, or a duplicate registration; failing
// fast avoids ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a RecordStore using the registered backend factory.
func New(ctx context.Context, cfg Config) (RecordStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: kind is required")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (is the backend package imported?)", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, for error messages and CLIs.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
