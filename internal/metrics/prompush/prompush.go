// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Pushgateway semantics differ from Datadog intake: each Push replaces the
// previously pushed group for the job, so this backend keeps cumulative
// counters and summaries in a private registry and pushes the whole registry
// on Flush(). There is no background loop; the pipeline's final Flush() (and
// any periodic Flush() the caller wires) is the delivery point.
package prompush

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"movietl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend implements metrics.Backend against a Prometheus Pushgateway.
type Backend struct {
	pusher   *push.Pusher
	registry *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]prometheus.Counter
	summaries map[string]prometheus.Summary
}

// NewBackend constructs a Pushgateway backend.
//
// jobName becomes the Pushgateway grouping job; gatewayURL is the base URL
// (e.g. http://localhost:9091).
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if jobName == "" {
		jobName = "movietl"
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}

	reg := prometheus.NewRegistry()
	return &Backend{
		pusher:    push.New(gatewayURL, jobName).Gatherer(reg),
		registry:  reg,
		counters:  make(map[string]prometheus.Counter),
		summaries: make(map[string]prometheus.Summary),
	}, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, tags ...string) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := name + "\x00" + strings.Join(tags, "\x00")
	c, ok := b.counters[k]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        promName(name) + "_total",
			Help:        "movietl counter " + name,
			ConstLabels: labelsFromTags(tags),
		})
		if err := b.registry.Register(c); err != nil {
			// Label-set collisions should not happen with stable tag order;
			// drop the sample rather than fail the pipeline.
			return
		}
		b.counters[k] = c
	}
	c.Add(delta)
}

// ObserveDuration implements metrics.Backend.
func (b *Backend) ObserveDuration(name string, d time.Duration, tags ...string) {
	if d < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := name + "\x00" + strings.Join(tags, "\x00")
	s, ok := b.summaries[k]
	if !ok {
		s = prometheus.NewSummary(prometheus.SummaryOpts{
			Name:        promName(name) + "_seconds",
			Help:        "movietl duration " + name,
			ConstLabels: labelsFromTags(tags),
			Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		})
		if err := b.registry.Register(s); err != nil {
			return
		}
		b.summaries[k] = s
	}
	s.Observe(d.Seconds())
}

// Flush pushes the accumulated registry to the gateway.
func (b *Backend) Flush() error {
	return b.pusher.Push()
}

// promName converts dotted metric names ("etl.http.requests") into the
// underscore form Prometheus requires.
func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// labelsFromTags converts "key:value" tags into Prometheus labels. Malformed
// tags (no colon) become value-less "tag" labels and are dropped instead of
// producing invalid label names.
func labelsFromTags(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return nil
	}
	out := make(prometheus.Labels, len(tags))
	for _, t := range tags {
		k, v, ok := strings.Cut(t, ":")
		if !ok || k == "" {
			continue
		}
		out[promName(k)] = v
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
