package tmdb

// RawGenre is one element of the taxonomy endpoint's "genres" array, decoded
// as-is. ID is a pointer so a missing/null identifier survives decoding and
// can be filtered by the normalizer.
type RawGenre struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

// RawMovie is one element of the discover endpoint's "results" array.
//
// ID and GenreIDs are pointers/nilable so the normalizer can distinguish
// "absent or null" from zero values; both are load-bearing validity checks.
type RawMovie struct {
	ID               *int64   `json:"id"`
	Title            string   `json:"title"`
	OriginalTitle    string   `json:"original_title"`
	OriginalLanguage string   `json:"original_language"`
	Overview         string   `json:"overview"`
	Popularity       float64  `json:"popularity"`
	VoteAverage      float64  `json:"vote_average"`
	VoteCount        int64    `json:"vote_count"`
	ReleaseDate      string   `json:"release_date"`
	GenreIDs         []*int64 `json:"genre_ids"`

	// Present in the payload but deliberately never persisted.
	BackdropPath *string `json:"backdrop_path"`
	PosterPath   *string `json:"poster_path"`
	Adult        bool    `json:"adult"`
	Video        bool    `json:"video"`
}
