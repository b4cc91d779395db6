// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// Scrape runs range from a few seconds (one county, one page) to hours (a
// statewide backfill), so the backend buffers in memory, flushes on a ticker
// for long runs, and flushes one final time on Close for short ones.
//
// Concurrency model:
//   - sessions call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"lienharvest/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "lienharvest".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams: production never sets these; unit tests use
	// them to avoid real submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs. The SDK exposes a concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP; depending on this interface instead enables
// deterministic tests with a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one buffered series: metric name plus its canonical
// tag string.
type seriesKey struct {
	name string
	tags string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	submitter metricsSubmitter
	ctx       context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	// now and newTicker are injected for deterministic tests. Production
	// uses time.Now and time.NewTicker.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

// NewBackend constructs a Datadog backend using the official client. The API
// key is taken from the environment (DD_API_KEY) via the SDK's default
// context. Network errors occur during Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "lienharvest"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := append([]string{"job:" + job}, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		submitter:  submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush. Call
// once at process shutdown.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k := seriesKey{name: name, tags: canonicalTags(labels)}

	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k := seriesKey{name: name, tags: canonicalTags(labels)}

	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// snapshotAndReset grabs current buffered metrics and resets the buffers so
// submission happens out-of-lock.
func (b *Backend) snapshotAndReset() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counters, samples := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return counters, samples
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers are reset even when submission fails; losing a window of telemetry
// is preferred over blocking scrape sessions behind a slow intake.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	series := buildSeries(b.baseTags, counters, samples, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.submitter.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs the submission payload at a fixed timestamp. It is
// pure (no locks, clocks or network), which keeps the naming/tagging
// contract unit-testable.
func buildSeries(baseTags []string, counters map[seriesKey]float64, samples map[seriesKey][]float64, nowUnix int64) []datadogV2.MetricSeries {
	point := func(value float64) []datadogV2.MetricPoint {
		return []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		}
	}

	series := make([]datadogV2.MetricSeries, 0, len(counters)+len(samples)*4)

	for k, v := range counters {
		if v == 0 {
			continue
		}
		series = append(series, datadogV2.MetricSeries{
			Metric: metricName(k.name),
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: point(v),
			Tags:   mergeTags(baseTags, k.tags),
		})
	}

	for k, vals := range samples {
		if len(vals) == 0 {
			continue
		}
		tags := mergeTags(baseTags, k.tags)
		name := metricName(k.name)
		for _, p := range percentiles(vals) {
			series = append(series, datadogV2.MetricSeries{
				Metric: name + "." + p.suffix,
				Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
				Points: point(p.value),
				Tags:   tags,
			})
		}
	}

	// Deterministic payload order keeps test assertions simple (map
	// iteration order would otherwise leak into the payload).
	sort.Slice(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

// metricName maps facade names ("scrape_pages_total") onto the Datadog
// dotted namespace ("lienharvest.scrape.pages.total").
func metricName(facade string) string {
	return "lienharvest." + strings.ReplaceAll(facade, "_", ".")
}

type percentile struct {
	suffix string
	value  float64
}

// percentiles summarizes a sample set into the fixed gauges the job's
// dashboards expect.
func percentiles(vals []float64) []percentile {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	at := func(q float64) float64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}

	return []percentile{
		{"p50", at(0.50)},
		{"p95", at(0.95)},
		{"max", sorted[len(sorted)-1]},
		{"count", float64(len(sorted))},
	}
}

// canonicalTags renders labels as a sorted "k:v,k:v" string so equal label
// sets always collapse into one series.
func canonicalTags(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func mergeTags(base []string, canonical string) []string {
	out := append([]string(nil), base...)
	if canonical != "" {
		out = append(out, strings.Split(canonical, ",")...)
	}
	return out
}

// ParseTagsCSV splits a comma-separated tag list (typically from the
// METRICS_TAGS environment variable) into a tag slice, dropping empties.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
