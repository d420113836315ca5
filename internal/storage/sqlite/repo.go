package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"movietl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has supported the same upsert grammar (ON CONFLICT ... DO
//     UPDATE / DO NOTHING, with the excluded. qualifier) since 3.24, so the
//     statement shape matches the Postgres backend with ? placeholders.
//   - There are no schemas in a single-file database; Config.Schema is
//     ignored (the file itself is the namespace).
//   - Dates are stored with TEXT affinity; time.Time values round-trip
//     through the driver, which is sufficient for this pipeline.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates tables if they do not exist.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
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

	stmt, args := buildUpsertSQL(table, columns, rows, policy)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// buildUpsertSQL mirrors the Postgres builder with ? placeholders.
func buildUpsertSQL(table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range policy.KeyColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
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
			b.WriteString(sqlIdent(c))
			b.WriteString(" = excluded.")
			b.WriteString(sqlIdent(c))
			n++
		}
		if n == 0 {
			b.Reset()
			return buildUpsertSQL(table, columns, rows, storage.IgnoreOnConflict(policy.KeyColumns...))
		}
	}

	b.WriteString(";")
	return b.String(), args
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s: no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		typ := strings.TrimSpace(c.Type)
		if name == "" || typ == "" {
			return "", fmt.Errorf("sqlite: table %s: column name/type must be set", t.Name)
		}

		var b strings.Builder
		b.WriteString(sqlIdent(name))
		b.WriteString(" ")
		b.WriteString(typ)
		if name == t.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		} else if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		parts = append(parts, b.String())
	}

	for _, cstr := range t.Constraints {
		if strings.ToLower(cstr.Kind) != "unique" || len(cstr.Columns) == 0 {
			return "", fmt.Errorf("sqlite: table %s: unsupported constraint %+v", t.Name, cstr)
		}
		quoted := make([]string, len(cstr.Columns))
		for i, col := range cstr.Columns {
			quoted[i] = sqlIdent(col)
		}
		parts = append(parts, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

func isKeyColumn(name string, keys []string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
