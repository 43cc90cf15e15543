// Package promrecorder exports core metrics through a Prometheus registry.
package promrecorder

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-square-bff/core"
)

// DefaultLabels are the tag keys the core observer emits. Tags outside the
// configured label set are dropped.
var DefaultLabels = core.MetricTagKeys

// DefaultBuckets cover millisecond durations from 5ms to ~10s.
var DefaultBuckets = prometheus.ExponentialBuckets(5, 2, 12)

type Option func(*Recorder)

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		cleaned := make([]string, 0, len(labels))
		for _, label := range labels {
			if label = sanitize(label); label != "" {
				cleaned = append(cleaned, label)
			}
		}
		r.labels = cleaned
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(r *Recorder) {
		r.runtime = true
	}
}

// Recorder lazily creates one vector per metric name.
type Recorder struct {
	registry *prometheus.Registry
	labels   []string
	buckets  []float64
	runtime  bool

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		registry:   prometheus.NewRegistry(),
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    DefaultBuckets,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.runtime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(sanitize(name))
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.values(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(sanitize(name))
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.values(tags)...).Observe(value)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "Operation counter " + name,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		// A name already taken by another metric type stays unrecorded.
		vec = nil
	}
	r.counters[name] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Operation histogram " + name,
		Buckets: r.buckets,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		vec = nil
	}
	r.histograms[name] = vec
	return vec
}

func (r *Recorder) values(tags map[string]string) []string {
	values := make([]string, len(r.labels))
	for index, label := range r.labels {
		values[index] = strings.TrimSpace(tags[label])
	}
	return values
}

// sanitize maps an observer metric name such as "square_bff.oauth_callback.total"
// onto the Prometheus name charset.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for index, char := range name {
		switch {
		case char >= 'a' && char <= 'z', char >= 'A' && char <= 'Z', char == '_':
			b.WriteRune(char)
		case char >= '0' && char <= '9':
			if index == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(char)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
