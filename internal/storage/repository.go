// Package storage defines the backend-agnostic loading contract: table
// specs, conflict policies, and a registry of repository backends.
//
// Each backend (postgres, sqlite, mssql) implements the upsert semantics in
// its own idiomatic way (ON CONFLICT, INSERT OR ..., anti-join inserts) and
// registers itself from an init() function; the storage/all package pulls
// them all in.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config selects and configures a repository backend.
//
// Schema is the namespace the tables live under. Backends without schema
// support ignore it.
type Config struct {
	Kind   string
	DSN    string
	Schema string
}

// ConflictAction is the tagged half of a ConflictPolicy.
type ConflictAction int

const (
	// ActionUpdate reconciles a conflicting row by setting every non-key
	// column to the incoming value (last write wins).
	ActionUpdate ConflictAction = iota

	// ActionIgnore leaves a conflicting row untouched; once recorded, the
	// row is immutable and duplicates must not error or multiply rows.
	ActionIgnore
)

// ConflictPolicy declares how an upsert resolves a conflict on KeyColumns.
//
// This is an explicit value chosen by the caller per relation; the writer
// never inspects table names to decide behavior.
type ConflictPolicy struct {
	Action     ConflictAction
	KeyColumns []string
}

// UpdateOnConflict returns a last-write-wins policy keyed on keyColumns.
func UpdateOnConflict(keyColumns ...string) ConflictPolicy {
	return ConflictPolicy{Action: ActionUpdate, KeyColumns: keyColumns}
}

// IgnoreOnConflict returns a do-nothing policy keyed on keyColumns.
func IgnoreOnConflict(keyColumns ...string) ConflictPolicy {
	return ConflictPolicy{Action: ActionIgnore, KeyColumns: keyColumns}
}

// Validate checks that the policy is well-formed.
func (p ConflictPolicy) Validate() error {
	if len(p.KeyColumns) == 0 {
		return fmt.Errorf("conflict policy: key columns are required")
	}
	switch p.Action {
	case ActionUpdate, ActionIgnore:
		return nil
	default:
		return fmt.Errorf("conflict policy: unknown action %d", p.Action)
	}
}

// ColumnSpec is one column definition used for auto-created tables. Types
// are portable SQL ("bigint", "text", "date", "double precision"); backends
// translate where their dialect requires it.
type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

// ConstraintSpec is a table-level constraint. Only "unique" is supported,
// which is all the join relation's natural key needs.
type ConstraintSpec struct {
	Kind    string
	Columns []string
}

// TableSpec describes one destination table. Name is unqualified; backends
// apply Config.Schema.
type TableSpec struct {
	Name        string
	PrimaryKey  string // column name; empty means no inline primary key
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
}

// Repository is the backend-agnostic write interface.
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureTables creates the namespace and tables if they do not exist.
	// Idempotent; safe to run on every invocation.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Upsert writes rows as one multi-row INSERT per call, resolving
	// conflicts per policy, inside a single transaction: all rows commit or
	// none do. Returns the number of rows affected.
	Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy ConflictPolicy) (int64, error)
}

// LoadError reports a failed write, tagged with the destination table.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ---- backend factories ----

// Factory builds a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call from an init() function in a backend package. Registering the same
// kind twice panics: fail fast rather than allow ambiguous backend selection.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

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

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	factoriesMu.RLock()
	f := factories[cfg.Kind]
	factoriesMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
