// Package loader persists normalized relations through a storage.Repository.
//
// It owns the destination table shapes, the column ordering of each relation,
// and the conflict policy per table: genres and movies reconcile on their
// primary key (last write wins), the movie↔genre join is insert-once on its
// natural pair key. All three loads are idempotent, so replaying a page is
// harmless.
package loader

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"movietl/internal/metrics"
	"movietl/internal/normalize"
	"movietl/internal/storage"
)

const (
	GenresTable      = "genres"
	MoviesTable      = "movies"
	MovieGenresTable = "movie_genres"
)

// Tables describes the three destination tables for EnsureTables.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		{
			Name:       GenresTable,
			PrimaryKey: "id",
			Columns: []storage.ColumnSpec{
				{Name: "id", Type: "bigint"},
				{Name: "name", Type: "text"},
			},
		},
		{
			Name:       MoviesTable,
			PrimaryKey: "id",
			Columns: []storage.ColumnSpec{
				{Name: "id", Type: "bigint"},
				{Name: "title", Type: "text"},
				{Name: "original_title", Type: "text"},
				{Name: "original_language", Type: "text"},
				{Name: "overview", Type: "text"},
				{Name: "popularity", Type: "double precision"},
				{Name: "vote_average", Type: "double precision"},
				{Name: "vote_count", Type: "bigint"},
				{Name: "release_date", Type: "date", Nullable: true},
			},
		},
		{
			Name: MovieGenresTable,
			Columns: []storage.ColumnSpec{
				{Name: "movie_id", Type: "bigint"},
				{Name: "genre_id", Type: "bigint"},
			},
			Constraints: []storage.ConstraintSpec{
				{Kind: "unique", Columns: []string{"movie_id", "genre_id"}},
			},
		},
	}
}

// Loader writes relations in batches. Concurrent page loads are safe: writes
// to the same table are serialized so interleaved batches cannot deadlock
// each other inside the store.
type Loader struct {
	repo      storage.Repository
	log       *zap.Logger
	job       string
	batchSize int

	genresMu sync.Mutex
	moviesMu sync.Mutex
	linksMu  sync.Mutex
}

// New builds a Loader. batchSize must be positive (config defaults it).
func New(repo storage.Repository, batchSize int, job string, log *zap.Logger) *Loader {
	return &Loader{
		repo:      repo,
		log:       log,
		job:       job,
		batchSize: batchSize,
	}
}

// EnsureTables creates the destination tables if missing.
func (l *Loader) EnsureTables(ctx context.Context) error {
	return l.repo.EnsureTables(ctx, Tables())
}

// LoadGenres upserts the genre taxonomy, reconciling names on the id key.
func (l *Loader) LoadGenres(ctx context.Context, genres []normalize.Genre) (int64, error) {
	if len(genres) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(genres))
	for _, g := range dedupeGenres(genres) {
		rows = append(rows, []any{g.ID, g.Name})
	}

	l.genresMu.Lock()
	defer l.genresMu.Unlock()
	return l.write(ctx, GenresTable,
		[]string{"id", "name"},
		rows,
		storage.UpdateOnConflict("id"))
}

// LoadMovies upserts one batch of movies, reconciling every non-key column on
// the id key.
func (l *Loader) LoadMovies(ctx context.Context, movies []normalize.Movie) (int64, error) {
	if len(movies) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(movies))
	for _, m := range dedupeMovies(movies) {
		var released any
		if m.ReleaseDate != nil {
			released = *m.ReleaseDate
		}
		rows = append(rows, []any{
			m.ID, m.Title, m.OriginalTitle, m.OriginalLanguage, m.Overview,
			m.Popularity, m.VoteAverage, m.VoteCount, released,
		})
	}

	l.moviesMu.Lock()
	defer l.moviesMu.Unlock()
	return l.write(ctx, MoviesTable,
		[]string{
			"id", "title", "original_title", "original_language", "overview",
			"popularity", "vote_average", "vote_count", "release_date",
		},
		rows,
		storage.UpdateOnConflict("id"))
}

// LoadMovieGenres inserts join rows, silently skipping pairs already present.
func (l *Loader) LoadMovieGenres(ctx context.Context, links []normalize.MovieGenre) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(links))
	for _, mg := range links {
		rows = append(rows, []any{mg.MovieID, mg.GenreID})
	}

	l.linksMu.Lock()
	defer l.linksMu.Unlock()
	return l.write(ctx, MovieGenresTable,
		[]string{"movie_id", "genre_id"},
		rows,
		storage.IgnoreOnConflict("movie_id", "genre_id"))
}

// write chunks rows by batchSize and upserts each chunk. A failure stops the
// remaining chunks and surfaces as a LoadError tagged with the table.
func (l *Loader) write(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		n, err := l.repo.Upsert(ctx, table, columns, rows[start:end], policy)
		if err != nil {
			return total, &storage.LoadError{Table: table, Err: err}
		}
		total += n
	}

	metrics.RecordRowsLoaded(l.job, table, total)
	l.log.Debug("rows loaded",
		zap.String("table", table),
		zap.Int("batch", len(rows)),
		zap.Int64("affected", total))
	return total, nil
}

// dedupeGenres keeps the last occurrence of each id so a multi-row DO UPDATE
// never targets the same key twice in one statement.
func dedupeGenres(genres []normalize.Genre) []normalize.Genre {
	idx := make(map[int64]int, len(genres))
	out := make([]normalize.Genre, 0, len(genres))
	for _, g := range genres {
		if i, seen := idx[g.ID]; seen {
			out[i] = g
			continue
		}
		idx[g.ID] = len(out)
		out = append(out, g)
	}
	return out
}

// dedupeMovies keeps the last occurrence of each id, same rationale as
// dedupeGenres.
func dedupeMovies(movies []normalize.Movie) []normalize.Movie {
	idx := make(map[int64]int, len(movies))
	out := make([]normalize.Movie, 0, len(movies))
	for _, m := range movies {
		if i, seen := idx[m.ID]; seen {
			out[i] = m
			continue
		}
		idx[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
