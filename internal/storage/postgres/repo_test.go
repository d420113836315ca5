package postgres

import (
	"testing"

	"movietl/internal/storage"
)

func TestBuildUpsertSQL_UpdatePolicy(t *testing.T) {
	t.Parallel()

	rows := [][]any{
		{int64(1), "Action"},
		{int64(2), "Drama"},
	}

	sql, args := buildUpsertSQL(`"etl_project"."genres"`, []string{"id", "name"}, rows, storage.UpdateOnConflict("id"))

	want := `INSERT INTO "etl_project"."genres" ("id", "name") VALUES ($1, $2), ($3, $4)` +
		` ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name";`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 4 {
		t.Fatalf("args.len=%d, want 4", len(args))
	}
	if args[0] != int64(1) || args[1] != "Action" || args[2] != int64(2) || args[3] != "Drama" {
		t.Fatalf("args=%v, want row-major order", args)
	}
}

func TestBuildUpsertSQL_IgnorePolicy(t *testing.T) {
	t.Parallel()

	rows := [][]any{{int64(550), int64(18)}}
	sql, args := buildUpsertSQL(`"movie_genres"`, []string{"movie_id", "genre_id"}, rows,
		storage.IgnoreOnConflict("movie_id", "genre_id"))

	want := `INSERT INTO "movie_genres" ("movie_id", "genre_id") VALUES ($1, $2)` +
		` ON CONFLICT ("movie_id", "genre_id") DO NOTHING;`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 2 {
		t.Fatalf("args.len=%d, want 2", len(args))
	}
}

func TestBuildUpsertSQL_AllColumnsKeyedFallsBackToIgnore(t *testing.T) {
	t.Parallel()

	rows := [][]any{{int64(550), int64(18)}}
	sql, _ := buildUpsertSQL(`"movie_genres"`, []string{"movie_id", "genre_id"}, rows,
		storage.UpdateOnConflict("movie_id", "genre_id"))

	want := `INSERT INTO "movie_genres" ("movie_id", "genre_id") VALUES ($1, $2)` +
		` ON CONFLICT ("movie_id", "genre_id") DO NOTHING;`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "movies",
		PrimaryKey: "id",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: "bigint"},
			{Name: "title", Type: "text"},
			{Name: "release_date", Type: "date", Nullable: true},
		},
	}

	sql, err := buildCreateSQL("etl_project", spec)
	if err != nil {
		t.Fatalf("buildCreateSQL() err=%v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "etl_project"."movies" (` +
		`"id" bigint PRIMARY KEY, "title" text NOT NULL, "release_date" date);`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
}

func TestBuildCreateSQL_UniqueConstraint(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "movie_genres",
		Columns: []storage.ColumnSpec{
			{Name: "movie_id", Type: "bigint"},
			{Name: "genre_id", Type: "bigint"},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"movie_id", "genre_id"}},
		},
	}

	sql, err := buildCreateSQL("", spec)
	if err != nil {
		t.Fatalf("buildCreateSQL() err=%v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "movie_genres" (` +
		`"movie_id" bigint NOT NULL, "genre_id" bigint NOT NULL, UNIQUE ("movie_id", "genre_id"));`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
}

func TestBuildCreateSQL_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := buildCreateSQL("", storage.TableSpec{Name: " "}); err == nil {
		t.Fatalf("empty table name accepted")
	}
	if _, err := buildCreateSQL("", storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("table without columns accepted")
	}
	if _, err := buildCreateSQL("", storage.TableSpec{
		Name:    "t",
		Columns: []storage.ColumnSpec{{Name: "a", Type: "bigint"}},
		Constraints: []storage.ConstraintSpec{
			{Kind: "check", Columns: []string{"a"}},
		},
	}); err == nil {
		t.Fatalf("unsupported constraint kind accepted")
	}
}

func TestPgIdent(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("pgIdent()=%s", got)
	}
}
