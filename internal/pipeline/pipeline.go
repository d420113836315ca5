// Package pipeline orchestrates one extract-transform-load run.
//
// Ordering invariants:
//   - the genre taxonomy loads before any movie page, so join rows never
//     reference genres the store has not seen
//   - page 1 is fetched alone to learn the page count; the remaining pages
//     fan out across a bounded worker pool
//
// Failure policy: a failed page is recorded and skipped (or, with
// abort_on_error, cancels the run); credential failures always abort.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"movietl/internal/config"
	"movietl/internal/loader"
	"movietl/internal/metrics"
	"movietl/internal/normalize"
	"movietl/internal/storage"
	"movietl/internal/tmdb"
)

// Extractor is the slice of the API client the runner needs. *tmdb.Client
// satisfies it; tests substitute fakes.
type Extractor interface {
	FetchGenres(ctx context.Context) ([]tmdb.RawGenre, error)
	FetchMoviePage(ctx context.Context, page int) ([]tmdb.RawMovie, int, error)
}

// PageFailure records one page that could not be processed. Page 0 stands
// for the genre taxonomy.
type PageFailure struct {
	Page int
	Err  error
}

// Summary is the outcome of one run.
type Summary struct {
	TotalPages     int
	PagesProcessed int
	Failures       []PageFailure

	Genres int64
	Movies int64
	Links  int64

	Elapsed time.Duration
}

// Failed reports whether any page failed.
func (s Summary) Failed() bool { return len(s.Failures) > 0 }

// Runner wires the stages together. The constructor seams exist so tests can
// run the whole orchestration against fakes.
type Runner struct {
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewExtractor  func(cfg config.Config, log *zap.Logger) Extractor
}

// NewDefaultRunner returns a Runner bound to the real API client and the
// registered storage backends.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		NewExtractor: func(cfg config.Config, log *zap.Logger) Extractor {
			return tmdb.New(cfg.API, cfg.Runtime, cfg.Job, log)
		},
	}
}

// Run executes one full run and returns its Summary. The error is non-nil
// only for run-level faults (setup, credentials, cancellation, fail-fast);
// ordinary per-page failures are reported in the Summary instead.
func (r *Runner) Run(ctx context.Context, cfg config.Config, log *zap.Logger) (Summary, error) {
	start := time.Now()

	st := &runState{log: log, cfg: cfg}

	repo, err := r.NewRepository(ctx, storage.Config{
		Kind:   cfg.Storage.Kind,
		DSN:    cfg.Storage.DSN,
		Schema: cfg.Storage.Schema,
	})
	if err != nil {
		return st.finish(start, nil), fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	ld := loader.New(repo, cfg.Storage.BatchSize, cfg.Job, log)
	if err := ld.EnsureTables(ctx); err != nil {
		return st.finish(start, nil), fmt.Errorf("ensure tables: %w", err)
	}

	ext := r.NewExtractor(cfg, log)

	// Taxonomy first.
	if err := st.runGenres(ctx, ext, ld); err != nil {
		return st.finish(start, err), err
	}

	err = st.runMoviePages(ctx, ext, ld)
	return st.finish(start, err), err
}

// runState carries one run's mutable progress. Worker goroutines funnel all
// updates through the mutex.
type runState struct {
	log *zap.Logger
	cfg config.Config

	mu      sync.Mutex
	summary Summary
}

func (st *runState) finish(start time.Time, err error) Summary {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.summary.Elapsed = time.Since(start)
	sort.Slice(st.summary.Failures, func(i, j int) bool {
		return st.summary.Failures[i].Page < st.summary.Failures[j].Page
	})
	metrics.RecordRun(st.cfg.Job, err == nil && !st.summary.Failed(), st.summary.Elapsed)
	return st.summary
}

func (st *runState) recordFailure(page int, err error) {
	st.mu.Lock()
	st.summary.Failures = append(st.summary.Failures, PageFailure{Page: page, Err: err})
	st.mu.Unlock()
	metrics.RecordPage(st.cfg.Job, false)
}

func (st *runState) recordPage(movies, links int64) {
	st.mu.Lock()
	st.summary.PagesProcessed++
	st.summary.Movies += movies
	st.summary.Links += links
	st.mu.Unlock()
	metrics.RecordPage(st.cfg.Job, true)
}

func (st *runState) runGenres(ctx context.Context, ext Extractor, ld *loader.Loader) error {
	raw, err := ext.FetchGenres(ctx)
	if err != nil {
		if errors.Is(err, tmdb.ErrUnauthorized) || ctx.Err() != nil {
			return err
		}
		// A missing taxonomy is not fatal; movie pages can still load.
		st.recordFailure(0, err)
		st.log.Warn("genre extraction failed, continuing without taxonomy", zap.Error(err))
		return nil
	}

	genres := normalize.Genres(raw)
	n, err := ld.LoadGenres(ctx, genres)
	if err != nil {
		st.recordFailure(0, err)
		st.log.Error("genre load failed", zap.Error(err))
		return nil
	}

	st.mu.Lock()
	st.summary.Genres = n
	st.mu.Unlock()
	st.log.Info("genres loaded", zap.Int("fetched", len(raw)), zap.Int64("loaded", n))
	return nil
}

func (st *runState) runMoviePages(ctx context.Context, ext Extractor, ld *loader.Loader) error {
	// Page 1 alone: it carries the page count that bounds the rest of the
	// run. Without it there is no trustworthy bound, so the run stops.
	totalPages, err := st.processPage(ctx, ext, ld, 1)
	if err != nil {
		if errors.Is(err, tmdb.ErrUnauthorized) || ctx.Err() != nil {
			return err
		}
		st.recordFailure(1, err)
		return fmt.Errorf("page 1 failed, page count unknown: %w", err)
	}

	st.mu.Lock()
	st.summary.TotalPages = totalPages
	st.mu.Unlock()

	if totalPages <= 1 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu  sync.Mutex
		fatalErr error
	)
	abort := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	workers := st.cfg.Runtime.FetchWorkers
	if remaining := totalPages - 1; workers > remaining {
		workers = remaining
	}

	pages := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pages {
				_, err := st.processPage(runCtx, ext, ld, page)
				switch {
				case err == nil:
					// processPage already recorded the page.
				case errors.Is(err, tmdb.ErrUnauthorized):
					abort(err)
				case runCtx.Err() != nil:
					// Cancelled mid-flight; not a page failure.
				default:
					st.recordFailure(page, err)
					st.log.Error("page failed", zap.Int("page", page), zap.Error(err))
					if st.cfg.Runtime.AbortOnError {
						abort(fmt.Errorf("aborting on page %d: %w", page, err))
					}
				}
			}
		}()
	}

feed:
	for page := 2; page <= totalPages; page++ {
		select {
		case pages <- page:
		case <-runCtx.Done():
			break feed
		}
	}
	close(pages)
	wg.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

// processPage fetches, normalizes, and loads one movie page, recording it in
// the summary on success. Returns the total page count the API reported.
func (st *runState) processPage(ctx context.Context, ext Extractor, ld *loader.Loader, page int) (int, error) {
	raw, totalPages, err := ext.FetchMoviePage(ctx, page)
	if err != nil {
		return 0, err
	}

	movies, links, err := normalize.Movies(raw, st.cfg.Transform.DatePolicy)
	if err != nil {
		return 0, err
	}

	nm, err := ld.LoadMovies(ctx, movies)
	if err != nil {
		return 0, err
	}
	nl, err := ld.LoadMovieGenres(ctx, links)
	if err != nil {
		return 0, err
	}

	st.recordPage(nm, nl)
	st.log.Info("page processed",
		zap.Int("page", page),
		zap.Int("fetched", len(raw)),
		zap.Int64("movies", nm),
		zap.Int64("links", nl))
	return totalPages, nil
}
