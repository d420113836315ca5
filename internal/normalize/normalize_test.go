package normalize

import (
	"errors"
	"testing"
	"time"

	"movietl/internal/config"
	"movietl/internal/tmdb"
)

func i64(v int64) *int64 { return &v }

func TestGenres(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawGenre{
		{ID: i64(28), Name: "Action"},
		{Name: "no id, dropped"},
		{ID: i64(18), Name: "Drama"},
	}

	got := Genres(raw)
	if len(got) != 2 {
		t.Fatalf("got %d genres, want 2", len(got))
	}
	if got[0] != (Genre{ID: 28, Name: "Action"}) {
		t.Fatalf("got[0]=%+v", got[0])
	}
	if got[1] != (Genre{ID: 18, Name: "Drama"}) {
		t.Fatalf("got[1]=%+v", got[1])
	}
}

func TestMovies_DropsInvalidRecords(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawMovie{
		{Title: "no id", GenreIDs: []*int64{i64(1)}},
		{ID: i64(10), Title: "no genre list"}, // nil GenreIDs drops the record
		{ID: i64(11), Title: "empty genre list", GenreIDs: []*int64{}},
		{ID: i64(12), Title: "ok", GenreIDs: []*int64{i64(1)}},
	}

	movies, links, err := Movies(raw, config.DateToNull)
	if err != nil {
		t.Fatalf("Movies() err=%v", err)
	}

	if len(movies) != 2 {
		t.Fatalf("got %d movies, want 2 (11 and 12): %+v", len(movies), movies)
	}
	if movies[0].ID != 11 || movies[1].ID != 12 {
		t.Fatalf("kept ids=%d,%d, want 11,12", movies[0].ID, movies[1].ID)
	}
	if len(links) != 1 || links[0] != (MovieGenre{MovieID: 12, GenreID: 1}) {
		t.Fatalf("links=%+v, want single (12,1)", links)
	}
}

func TestMovies_ExplodesAndDedupesGenreLinks(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawMovie{
		{ID: i64(550), GenreIDs: []*int64{i64(18), i64(53), i64(53), nil, i64(18)}},
	}

	_, links, err := Movies(raw, config.DateToNull)
	if err != nil {
		t.Fatalf("Movies() err=%v", err)
	}

	want := []MovieGenre{
		{MovieID: 550, GenreID: 18},
		{MovieID: 550, GenreID: 53},
	}
	if len(links) != len(want) {
		t.Fatalf("links=%+v, want %+v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("links[%d]=%+v, want %+v", i, links[i], want[i])
		}
	}
}

func TestMovies_DatePolicyNull(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawMovie{
		{ID: i64(1), ReleaseDate: "1999-10-15", GenreIDs: []*int64{}},
		{ID: i64(2), ReleaseDate: "", GenreIDs: []*int64{}},
		{ID: i64(3), ReleaseDate: "not-a-date", GenreIDs: []*int64{}},
	}

	movies, _, err := Movies(raw, config.DateToNull)
	if err != nil {
		t.Fatalf("Movies() err=%v", err)
	}
	if len(movies) != 3 {
		t.Fatalf("got %d movies, want 3", len(movies))
	}

	want := time.Date(1999, 10, 15, 0, 0, 0, 0, time.UTC)
	if movies[0].ReleaseDate == nil || !movies[0].ReleaseDate.Equal(want) {
		t.Fatalf("movies[0].ReleaseDate=%v, want %s", movies[0].ReleaseDate, want)
	}
	if movies[1].ReleaseDate != nil {
		t.Fatalf("empty date should be nil, got %v", movies[1].ReleaseDate)
	}
	if movies[2].ReleaseDate != nil {
		t.Fatalf("unparseable date should be nil, got %v", movies[2].ReleaseDate)
	}
}

func TestMovies_DatePolicyDrop(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawMovie{
		{ID: i64(1), ReleaseDate: "1999-10-15", GenreIDs: []*int64{i64(18)}},
		{ID: i64(2), ReleaseDate: "", GenreIDs: []*int64{i64(18)}},
		{ID: i64(3), ReleaseDate: "15/10/1999", GenreIDs: []*int64{i64(18)}},
	}

	movies, links, err := Movies(raw, config.DropRecord)
	if err != nil {
		t.Fatalf("Movies() err=%v", err)
	}
	if len(movies) != 1 || movies[0].ID != 1 {
		t.Fatalf("movies=%+v, want only id 1", movies)
	}
	// Dropped records contribute no join rows either.
	if len(links) != 1 || links[0].MovieID != 1 {
		t.Fatalf("links=%+v, want only movie 1", links)
	}
}

func TestMovies_CarriesScalarFields(t *testing.T) {
	t.Parallel()

	raw := []tmdb.RawMovie{{
		ID:               i64(603),
		Title:            "The Matrix",
		OriginalTitle:    "The Matrix",
		OriginalLanguage: "en",
		Overview:         "A hacker learns the truth.",
		Popularity:       81.5,
		VoteAverage:      8.2,
		VoteCount:        24000,
		ReleaseDate:      "1999-03-31",
		GenreIDs:         []*int64{i64(28), i64(878)},
	}}

	movies, _, err := Movies(raw, config.DateToNull)
	if err != nil {
		t.Fatalf("Movies() err=%v", err)
	}
	m := movies[0]
	if m.Title != "The Matrix" || m.OriginalLanguage != "en" {
		t.Fatalf("m=%+v", m)
	}
	if m.Popularity != 81.5 || m.VoteAverage != 8.2 || m.VoteCount != 24000 {
		t.Fatalf("numeric fields wrong: %+v", m)
	}
}

func TestMovies_UnknownDatePolicy(t *testing.T) {
	t.Parallel()

	_, _, err := Movies(nil, "coerce")
	if err == nil {
		t.Fatalf("Movies() err=nil, want policy error")
	}
	var terr *TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%T, want *TransformError", err)
	}
}
