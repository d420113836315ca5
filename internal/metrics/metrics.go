// Package metrics is the seam between the pipeline and a metrics backend.
//
// The core pipeline code depends only on this package. Concrete backends
// (Datadog, Pushgateway) live in subpackages and are selected at startup.
// By default a nop backend is installed, so callers never need nil checks.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Backend is the minimal surface a metrics backend must implement.
//
// Implementations must be safe for concurrent use: the pipeline records
// metrics from loader and fetch-worker goroutines simultaneously.
type Backend interface {
	// IncCounter adds delta to the named counter. Tags are "key:value" pairs.
	IncCounter(name string, delta float64, tags ...string)

	// ObserveDuration records one duration sample for the named distribution.
	ObserveDuration(name string, d time.Duration, tags ...string)

	// Flush submits buffered metrics to the backend.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, ...string)            {}
func (nopBackend) ObserveDuration(string, time.Duration, ...string) {}
func (nopBackend) Flush() error                                     { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend.
//
// Call once at startup before the pipeline runs. Passing nil restores the
// nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		current = nopBackend{}
		return
	}
	current = b
}

// Flush submits buffered metrics on the installed backend.
func Flush() error {
	mu.RLock()
	b := current
	mu.RUnlock()
	return b.Flush()
}

func backend() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// RecordHTTP records the outcome of one HTTP attempt against the source API.
func RecordHTTP(job string, status int, err error, reqDur time.Duration) {
	b := backend()
	tags := []string{"job:" + job, "status:" + strconv.Itoa(status)}
	b.IncCounter("etl.http.requests", 1, tags...)
	if err != nil {
		b.IncCounter("etl.http.errors", 1, tags...)
	}
	b.ObserveDuration("etl.http.request_duration", reqDur, "job:"+job)
}

// RecordPage records a processed entity page and whether it succeeded.
func RecordPage(job string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	backend().IncCounter("etl.pages", 1, "job:"+job, "outcome:"+outcome)
}

// RecordRowsLoaded records rows written (inserted or reconciled) to a table.
func RecordRowsLoaded(job, table string, n int64) {
	backend().IncCounter("etl.rows_loaded", float64(n), "job:"+job, "table:"+table)
}

// RecordRun records a completed run.
func RecordRun(job string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	b := backend()
	b.IncCounter("etl.runs", 1, "job:"+job, "outcome:"+outcome)
	b.ObserveDuration("etl.run_duration", elapsed, "job:"+job)
}
