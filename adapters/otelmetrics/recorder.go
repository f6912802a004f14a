// Package otelmetrics records banklink operation metrics through an
// OpenTelemetry meter.
package otelmetrics

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-banklink/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/goliatone/go-banklink"

// Recorder implements core.MetricsRecorder. Instruments are created lazily
// and reused per metric name.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	onError    func(error)
}

type Option func(*Recorder)

// WithErrorHandler receives instrument creation failures. They are dropped
// otherwise.
func WithErrorHandler(handler func(error)) Option {
	return func(r *Recorder) {
		r.onError = handler
	}
}

// New builds a recorder on provider; a nil provider uses the global one.
func New(provider metric.MeterProvider, opts ...Option) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	r := &Recorder{
		meter:      provider.Meter(instrumentationName),
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r == nil {
		return
	}
	counter, err := r.counter(name)
	if err != nil {
		r.report(err)
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram, err := r.histogram(name)
	if err != nil {
		r.report(err)
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) (metric.Int64Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, nil
	}
	counter, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: counter %s: %w", name, err)
	}
	r.counters[name] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := r.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: histogram %s: %w", name, err)
	}
	r.histograms[name] = histogram
	return histogram, nil
}

func (r *Recorder) report(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
