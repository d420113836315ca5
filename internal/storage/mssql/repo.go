package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"movietl/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// T-SQL has no ON CONFLICT clause, and MERGE is deliberately avoided (its
// concurrency and HOLDLOCK caveats are not worth it for batch loads).
// Upserts are expressed as two set-based statements over a VALUES derived
// table, inside one transaction:
//
//	UPDATE d SET ... FROM <table> d JOIN (VALUES ...) v ON <keys>   -- update policy only
//	INSERT INTO <table> SELECT ... FROM (VALUES ...) v
//	  LEFT JOIN <table> d ON <keys> WHERE d.<key> IS NULL
//
// SQL Server caps statements at 2100 parameters, so batches are chunked to
// stay comfortably below that; the chunks still share one transaction.
type Repo struct {
	db     *sql.DB
	schema string
}

const maxParamsPerStatement = 1000

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, schema: cfg.Schema}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates the schema and tables if missing. Idempotent.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	if r.schema != "" {
		ddl := fmt.Sprintf(
			`IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = N'%s') EXEC(N'CREATE SCHEMA %s');`,
			strings.ReplaceAll(r.schema, "'", "''"), mssqlIdent(r.schema),
		)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create schema %s: %w", r.schema, err)
		}
	}

	for _, t := range tables {
		ddl, err := buildCreateSQL(r.schema, t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
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

	qualified := r.qualify(table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	chunk := maxParamsPerStatement / len(columns)
	if chunk < 1 {
		chunk = 1
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		if policy.Action == storage.ActionUpdate {
			stmt, args := buildUpdateSQL(qualified, columns, part, policy.KeyColumns)
			if stmt != "" {
				res, err := tx.ExecContext(ctx, stmt, args...)
				if err != nil {
					return 0, err
				}
				if n, err := res.RowsAffected(); err == nil {
					total += n
				}
			}
		}

		stmt, args := buildInsertMissingSQL(qualified, columns, part, policy.KeyColumns)
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repo) qualify(table string) string {
	if r.schema == "" {
		return mssqlIdent(table)
	}
	return mssqlIdent(r.schema) + "." + mssqlIdent(table)
}

// buildValuesTable renders "(VALUES (@p1, ...), ...) AS v ([c1], [c2])"
// starting at parameter firstParam, and returns the args.
func buildValuesTable(columns []string, rows [][]any, firstParam int) (string, []any) {
	var b strings.Builder
	b.WriteString("(VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := firstParam
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(")")
	return b.String(), args
}

// buildUpdateSQL renders the update half of an update-policy upsert. Returns
// "" when every column is a key column (nothing to refresh).
func buildUpdateSQL(table string, columns []string, rows [][]any, keys []string) (string, []any) {
	nonKey := nonKeyColumns(columns, keys)
	if len(nonKey) == 0 {
		return "", nil
	}

	values, args := buildValuesTable(columns, rows, 1)

	var b strings.Builder
	b.WriteString("UPDATE d SET ")
	for i, c := range nonKey {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("d.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(" AS d JOIN ")
	b.WriteString(values)
	b.WriteString(" ON ")
	writeKeyJoin(&b, keys)
	b.WriteString(";")
	return b.String(), args
}

// buildInsertMissingSQL renders the anti-join insert shared by both
// policies: rows whose key already exists are skipped.
func buildInsertMissingSQL(table string, columns []string, rows [][]any, keys []string) (string, []any) {
	values, args := buildValuesTable(columns, rows, 1)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(values)
	b.WriteString(" LEFT JOIN ")
	b.WriteString(table)
	b.WriteString(" AS d ON ")
	writeKeyJoin(&b, keys)
	b.WriteString(" WHERE d.")
	b.WriteString(mssqlIdent(keys[0]))
	b.WriteString(" IS NULL;")
	return b.String(), args
}

func writeKeyJoin(b *strings.Builder, keys []string) {
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("d.")
		b.WriteString(mssqlIdent(k))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(k))
	}
}

func nonKeyColumns(columns, keys []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		keyed := false
		for _, k := range keys {
			if k == c {
				keyed = true
				break
			}
		}
		if !keyed {
			out = append(out, c)
		}
	}
	return out
}

// buildCreateSQL renders idempotent DDL using OBJECT_ID guards (T-SQL has no
// CREATE TABLE IF NOT EXISTS).
func buildCreateSQL(schema string, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", t.Name)
	}

	name := mssqlIdent(t.Name)
	if schema != "" {
		name = mssqlIdent(schema) + "." + name
	}

	parts := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		colName := strings.TrimSpace(c.Name)
		typ := translateType(strings.TrimSpace(c.Type))
		if colName == "" || typ == "" {
			return "", fmt.Errorf("mssql: table %s: column name/type must be set", t.Name)
		}

		var b strings.Builder
		b.WriteString(mssqlIdent(colName))
		b.WriteString(" ")
		b.WriteString(typ)
		if colName == t.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		} else if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		parts = append(parts, b.String())
	}

	for _, cstr := range t.Constraints {
		if strings.ToLower(cstr.Kind) != "unique" || len(cstr.Columns) == 0 {
			return "", fmt.Errorf("mssql: table %s: unsupported constraint %+v", t.Name, cstr)
		}
		quoted := make([]string, len(cstr.Columns))
		for i, col := range cstr.Columns {
			quoted[i] = mssqlIdent(col)
		}
		parts = append(parts, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf(
		`IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s);`,
		strings.ReplaceAll(name, "'", "''"), name, strings.Join(parts, ", "),
	), nil
}

// translateType maps portable column types onto T-SQL equivalents. Types not
// listed pass through unchanged.
func translateType(typ string) string {
	switch strings.ToLower(typ) {
	case "text":
		return "NVARCHAR(MAX)"
	case "boolean":
		return "BIT"
	default:
		return typ
	}
}

// mssqlIdent quotes an identifier with brackets.
func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
