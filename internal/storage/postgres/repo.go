package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"movietl/internal/storage"
)

// Repo implements storage.Repository for Postgres.
//
// Upserts are expressed natively:
//
//	INSERT ... ON CONFLICT (<keys>) DO UPDATE SET col = EXCLUDED.col, ...
//	INSERT ... ON CONFLICT (<keys>) DO NOTHING
//
// Each Upsert call runs inside one transaction so a batch commits or rolls
// back atomically.
type Repo struct {
	pool   *pgxpool.Pool
	schema string
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, schema: cfg.Schema}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the schema and tables if they do not exist.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	if r.schema != "" {
		ddl := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(r.schema))
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create schema %s: %w", r.schema, err)
		}
	}

	for _, t := range tables {
		ddl, err := buildCreateSQL(r.schema, t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert writes one batch transactionally.
func (r *Repo) Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := policy.Validate(); err != nil {
		return 0, err
	}

	sql, args := buildUpsertSQL(r.qualify(table), columns, rows, policy)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *Repo) qualify(table string) string {
	if r.schema == "" {
		return table
	}
	return pgIdent(r.schema) + "." + pgIdent(table)
}

// buildUpsertSQL constructs a single multi-row INSERT with a policy-specific
// ON CONFLICT clause, plus its args.
//
// It is pure and deterministic so conflict-clause shape and placeholder
// numbering are unit-testable without a database. Every row must have
// len(columns) values.
func buildUpsertSQL(table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range policy.KeyColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(")")

	switch policy.Action {
	case storage.ActionIgnore:
		b.WriteString(" DO NOTHING")
	case storage.ActionUpdate:
		b.WriteString(" DO UPDATE SET ")
		n := 0
		for _, c := range columns {
			if isKeyColumn(c, policy.KeyColumns) {
				continue
			}
			if n > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
			b.WriteString(" = EXCLUDED.")
			b.WriteString(pgIdent(c))
			n++
		}
		if n == 0 {
			// Every column is part of the key; nothing to refresh.
			b.Reset()
			return buildUpsertSQL(table, columns, rows, storage.IgnoreOnConflict(policy.KeyColumns...))
		}
	}

	b.WriteString(";")
	return b.String(), args
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS DDL for one table.
func buildCreateSQL(schema string, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("postgres: table %s: no columns", t.Name)
	}

	cols := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		def, err := buildColumnDef(t, c)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}

	for _, cstr := range t.Constraints {
		if strings.ToLower(cstr.Kind) != "unique" || len(cstr.Columns) == 0 {
			return "", fmt.Errorf("postgres: table %s: unsupported constraint %+v", t.Name, cstr)
		}
		quoted := make([]string, len(cstr.Columns))
		for i, col := range cstr.Columns {
			quoted[i] = pgIdent(col)
		}
		cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}

	name := pgIdent(t.Name)
	if schema != "" {
		name = pgIdent(schema) + "." + name
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, name, strings.Join(cols, ", ")), nil
}

func buildColumnDef(t storage.TableSpec, c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if name == t.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	return b.String(), nil
}

func isKeyColumn(name string, keys []string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

// pgIdent quotes an identifier for Postgres.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
