// Package promrecorder exports the lifecycle service metrics to Prometheus.
package promrecorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-authorizations/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLabels are the bounded tag keys the lifecycle service attaches to
// operation samples. Tags outside this set are dropped, so the per-owner
// authorization name never becomes a label value. Missing ones are exported
// as empty labels.
var DefaultLabels = []string{"operation", "status", "state"}

// DefaultDurationBuckets are in milliseconds.
var DefaultDurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Option func(*Recorder)

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(r *Recorder) {
		if registerer != nil {
			r.registerer = registerer
		}
	}
}

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder. Collectors are created on first
// use and registered once per metric name.
type Recorder struct {
	registerer prometheus.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		registerer: prometheus.DefaultRegisterer,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    append([]float64(nil), DefaultDurationBuckets...),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter, err := r.counter(name)
	if err != nil {
		return
	}
	counter.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram, err := r.histogram(name)
	if err != nil {
		return
	}
	histogram.With(r.labelValues(tags)).Observe(value)
}

func (r *Recorder) counter(name string) (*prometheus.CounterVec, error) {
	metricName := MetricName(name)
	if metricName == "" {
		return nil, fmt.Errorf("promrecorder: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metricName]; ok {
		return existing, nil
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName,
		Help: "Authorization lifecycle counter " + name + ".",
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.counters[metricName] = vec
	return vec, nil
}

func (r *Recorder) histogram(name string) (*prometheus.HistogramVec, error) {
	metricName := MetricName(name)
	if metricName == "" {
		return nil, fmt.Errorf("promrecorder: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metricName]; ok {
		return existing, nil
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName,
		Help:    "Authorization lifecycle histogram " + name + ".",
		Buckets: r.buckets,
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.histograms[metricName] = vec
	return vec, nil
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = strings.TrimSpace(tags[label])
	}
	return values
}

// MetricName converts a dotted service metric name into a Prometheus one:
// authorizations.refresh.total becomes authorizations_refresh_total.
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
