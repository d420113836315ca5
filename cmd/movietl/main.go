// Command movietl runs the movie catalog ETL: genre taxonomy plus the paged
// movie listing, normalized and upserted into the configured store.
//
// Exit codes:
//
//	0  run completed with no failed pages
//	1  run completed with failures, or aborted mid-run
//	2  configuration or startup error
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"movietl/internal/config"
	"movietl/internal/metrics"
	"movietl/internal/metrics/datadog"
	"movietl/internal/metrics/prompush"
	"movietl/internal/pipeline"
	_ "movietl/internal/storage/all"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitSetup  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("movietl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath     = fs.String("config", "configs/movietl.json", "path to the JSON config file")
		validateOnly   = fs.Bool("validate", false, "validate the config and exit")
		metricsBackend = fs.String("metrics-backend", "none", "metrics backend: none | datadog | pushgateway")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (pushgateway backend)")
		metricsTags    = fs.String("metrics-tags", "", "extra metric tags, comma-separated key:value pairs")
		verbose        = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitSetup
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", zap.Error(err))
		return exitSetup
	}

	issues := config.Validate(cfg)
	fatal := false
	for _, issue := range issues {
		switch issue.Severity {
		case config.SeverityError:
			fatal = true
			log.Error("config issue", zap.String("path", issue.Path), zap.String("message", issue.Message))
		default:
			log.Warn("config issue", zap.String("path", issue.Path), zap.String("message", issue.Message))
		}
	}
	if fatal {
		return exitSetup
	}
	if *validateOnly {
		log.Info("config is valid", zap.String("config", *configPath))
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := setupMetrics(ctx, *metricsBackend, *pushgatewayURL, *metricsTags, cfg.Job, log)
	if err != nil {
		log.Error("metrics setup failed", zap.Error(err))
		return exitSetup
	}
	defer cleanup()

	log.Info("starting run",
		zap.String("job", cfg.Job),
		zap.String("storage", cfg.Storage.Kind),
		zap.Int("fetch_workers", cfg.Runtime.FetchWorkers))

	summary, err := pipeline.NewDefaultRunner().Run(ctx, cfg, log)
	logSummary(log, summary)

	if err != nil {
		log.Error("run aborted", zap.Error(err))
		return exitFailed
	}
	if summary.Failed() {
		return exitFailed
	}
	return exitOK
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

// setupMetrics installs the selected backend and returns its teardown. The
// teardown flushes whatever is still buffered.
func setupMetrics(ctx context.Context, kind, gatewayURL, tagsCSV, job string, log *zap.Logger) (func(), error) {
	switch kind {
	case "none", "":
		return func() {}, nil

	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       datadog.ParseTagsCSV(tagsCSV),
			FlushEvery: time.Minute,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics close failed", zap.Error(err))
			}
		}, nil

	case "pushgateway":
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics flush failed", zap.Error(err))
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q", kind)
	}
}

func logSummary(log *zap.Logger, s pipeline.Summary) {
	fields := []zap.Field{
		zap.Int("total_pages", s.TotalPages),
		zap.Int("pages_processed", s.PagesProcessed),
		zap.Int("pages_failed", len(s.Failures)),
		zap.Int64("genres", s.Genres),
		zap.Int64("movies", s.Movies),
		zap.Int64("links", s.Links),
		zap.Duration("elapsed", s.Elapsed),
	}
	if s.Failed() {
		for _, f := range s.Failures {
			log.Error("page failure", zap.Int("page", f.Page), zap.Error(f.Err))
		}
		log.Warn("run finished with failures", fields...)
		return
	}
	log.Info("run finished", fields...)
}
