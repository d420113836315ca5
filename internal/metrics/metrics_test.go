package metrics

import (
	"sync"
	"testing"
	"time"
)

// recordingBackend captures every call for assertion.
type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	observed map[string]int
	flushes  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		counters: map[string]float64{},
		observed: map[string]int{},
	}
}

func (r *recordingBackend) IncCounter(name string, delta float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

func (r *recordingBackend) ObserveDuration(name string, d time.Duration, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[name]++
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func TestSetBackend_RoutesHelpers(t *testing.T) {
	rec := newRecordingBackend()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordHTTP("job1", 200, nil, 50*time.Millisecond)
	RecordPage("job1", true)
	RecordPage("job1", false)
	RecordRowsLoaded("job1", "movies", 42)
	RecordRun("job1", true, time.Second)

	if got := rec.counters["etl.http.requests"]; got != 1 {
		t.Fatalf("etl.http.requests=%v, want 1", got)
	}
	if got := rec.counters["etl.http.errors"]; got != 0 {
		t.Fatalf("etl.http.errors=%v, want 0 for nil error", got)
	}
	if got := rec.counters["etl.pages"]; got != 2 {
		t.Fatalf("etl.pages=%v, want 2", got)
	}
	if got := rec.counters["etl.rows_loaded"]; got != 42 {
		t.Fatalf("etl.rows_loaded=%v, want 42", got)
	}
	if got := rec.counters["etl.runs"]; got != 1 {
		t.Fatalf("etl.runs=%v, want 1", got)
	}
	if rec.observed["etl.http.request_duration"] != 1 || rec.observed["etl.run_duration"] != 1 {
		t.Fatalf("observed=%v", rec.observed)
	}

	if err := Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes=%d, want 1", rec.flushes)
	}
}

func TestSetBackend_NilRestoresNop(t *testing.T) {
	SetBackend(nil)

	// Must not panic and must not error.
	RecordPage("job1", true)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() on nop err=%v", err)
	}
}
