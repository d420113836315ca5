// Package normalize converts raw API records into the three typed relations
// the loader persists: genres, movies, and the exploded movie↔genre join.
//
// Validity rules:
//   - a genre without an id is dropped
//   - a movie without an id or without a genre_ids list is dropped (a nil
//     list drops the record; an empty list keeps the movie with no links)
//   - join rows whose genre id is null are dropped during explosion
//
// Release dates are parsed to calendar dates; absent/unparseable values are
// handled per the configured policy.
package normalize

import (
	"fmt"
	"time"

	"movietl/internal/config"
	"movietl/internal/tmdb"
)

// Genre is a reference entity keyed by its stable external id.
type Genre struct {
	ID   int64
	Name string
}

// Movie is the primary entity. ReleaseDate is nil when the source value was
// absent/unparseable and the date policy is "null". The raw payload's
// backdrop/poster paths and content flags never reach this struct.
type Movie struct {
	ID               int64
	Title            string
	OriginalTitle    string
	OriginalLanguage string
	Overview         string
	Popularity       float64
	VoteAverage      float64
	VoteCount        int64
	ReleaseDate      *time.Time
}

// MovieGenre is one row of the join relation; the pair is the natural key.
type MovieGenre struct {
	MovieID int64
	GenreID int64
}

// TransformError reports a whole-batch transformation failure. It aborts
// only the affected page, not the run.
type TransformError struct {
	Page int
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform page %d: %v", e.Page, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

const dateLayout = "2006-01-02"

// Genres drops records with a missing identifier; no other transformation.
func Genres(raw []tmdb.RawGenre) []Genre {
	out := make([]Genre, 0, len(raw))
	for _, g := range raw {
		if g.ID == nil {
			continue
		}
		out = append(out, Genre{ID: *g.ID, Name: g.Name})
	}
	return out
}

// Movies produces the primary relation and the exploded join relation.
//
// The join relation contains each surviving (movie_id, genre_id) pair exactly
// once: duplicates within a record collapse here rather than relying on the
// store's conflict rule, so re-running over the same page is a no-op either
// way.
func Movies(raw []tmdb.RawMovie, policy config.DatePolicy) ([]Movie, []MovieGenre, error) {
	switch policy {
	case config.DateToNull, config.DropRecord:
	default:
		return nil, nil, &TransformError{Err: fmt.Errorf("unknown date policy %q", policy)}
	}

	movies := make([]Movie, 0, len(raw))
	links := make([]MovieGenre, 0, len(raw)*3)

	for _, r := range raw {
		if r.ID == nil || r.GenreIDs == nil {
			continue
		}

		released, ok := parseReleaseDate(r.ReleaseDate)
		if !ok && policy == config.DropRecord {
			continue
		}

		movies = append(movies, Movie{
			ID:               *r.ID,
			Title:            r.Title,
			OriginalTitle:    r.OriginalTitle,
			OriginalLanguage: r.OriginalLanguage,
			Overview:         r.Overview,
			Popularity:       r.Popularity,
			VoteAverage:      r.VoteAverage,
			VoteCount:        r.VoteCount,
			ReleaseDate:      released,
		})

		seen := make(map[int64]struct{}, len(r.GenreIDs))
		for _, gid := range r.GenreIDs {
			if gid == nil {
				continue
			}
			if _, dup := seen[*gid]; dup {
				continue
			}
			seen[*gid] = struct{}{}
			links = append(links, MovieGenre{MovieID: *r.ID, GenreID: *gid})
		}
	}

	return movies, links, nil
}

// parseReleaseDate reports ok=false for values that are absent or
// unparseable; both fall under the date policy.
func parseReleaseDate(s string) (*time.Time, bool) {
	if s == "" {
		return nil, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
