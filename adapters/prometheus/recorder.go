package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-outbound/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets covers millisecond durations from 5ms to 60s, which also
// fits attempt counts.
var DefaultBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

type Option func(*Recorder)

// WithRegistry records into registry instead of a private one.
func WithRegistry(registry *prom.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// Recorder implements core.MetricsRecorder on prometheus vectors. Dotted
// metric names become snake case. The label set of a metric is fixed by its
// first observation; later tags outside that set are dropped and missing
// ones are recorded empty.
type Recorder struct {
	registry   *prom.Registry
	namespace  string
	buckets    []float64
	logger     core.Logger
	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
	labels     map[string][]string
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		registry:   prom.NewRegistry(),
		buckets:    DefaultBuckets,
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
		labels:     map[string][]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	metric := r.metricName(name, "_total")
	r.mu.Lock()
	vec, labels, err := r.counterVec(metric, tags)
	if err != nil {
		r.mu.Unlock()
		r.logFailure(ctx, metric, err)
		return
	}
	vec.WithLabelValues(labelValues(labels, tags)...).Add(float64(value))
	r.mu.Unlock()
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	metric := r.metricName(name, "")
	r.mu.Lock()
	vec, labels, err := r.histogramVec(metric, tags)
	if err != nil {
		r.mu.Unlock()
		r.logFailure(ctx, metric, err)
		return
	}
	vec.WithLabelValues(labelValues(labels, tags)...).Observe(value)
	r.mu.Unlock()
}

// counterVec and histogramVec expect r.mu to be held.
func (r *Recorder) counterVec(metric string, tags map[string]string) (*prom.CounterVec, []string, error) {
	if vec, ok := r.counters[metric]; ok {
		return vec, r.labels[metric], nil
	}
	if _, clash := r.histograms[metric]; clash {
		return nil, nil, fmt.Errorf("prometheus: %s is already a histogram", metric)
	}
	labels := labelNames(tags)
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: metric,
		Help: "Outbound counter " + metric,
	}, labels)
	if err := r.registry.Register(vec); err != nil {
		existing, ok := alreadyRegistered[*prom.CounterVec](err)
		if !ok {
			return nil, nil, err
		}
		vec = existing
	}
	r.counters[metric] = vec
	r.labels[metric] = labels
	return vec, labels, nil
}

func (r *Recorder) histogramVec(metric string, tags map[string]string) (*prom.HistogramVec, []string, error) {
	if vec, ok := r.histograms[metric]; ok {
		return vec, r.labels[metric], nil
	}
	if _, clash := r.counters[metric]; clash {
		return nil, nil, fmt.Errorf("prometheus: %s is already a counter", metric)
	}
	labels := labelNames(tags)
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metric,
		Help:    "Outbound histogram " + metric,
		Buckets: r.buckets,
	}, labels)
	if err := r.registry.Register(vec); err != nil {
		existing, ok := alreadyRegistered[*prom.HistogramVec](err)
		if !ok {
			return nil, nil, err
		}
		vec = existing
	}
	r.histograms[metric] = vec
	r.labels[metric] = labels
	return vec, labels, nil
}

func (r *Recorder) metricName(name string, suffix string) string {
	metric := sanitizeName(name)
	if suffix != "" && !strings.HasSuffix(metric, suffix) {
		metric += suffix
	}
	if r.namespace != "" {
		metric = r.namespace + "_" + metric
	}
	return metric
}

func (r *Recorder) logFailure(ctx context.Context, metric string, err error) {
	if r.logger == nil {
		return
	}
	core.LogWithFields(ctx, r.logger, "warn", "prometheus metric dropped", map[string]any{
		"metric": metric,
		"error":  err.Error(),
	})
}

func alreadyRegistered[T prom.Collector](err error) (T, bool) {
	var zero T
	are, ok := err.(prom.AlreadyRegisteredError)
	if !ok {
		return zero, false
	}
	existing, ok := are.ExistingCollector.(T)
	return existing, ok
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if name := sanitizeName(key); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for index, label := range labels {
		values[index] = normalized[label]
	}
	return values
}

func sanitizeName(raw string) string {
	raw = strings.TrimSpace(raw)
	var builder strings.Builder
	for index, char := range raw {
		switch {
		case char >= 'a' && char <= 'z', char >= 'A' && char <= 'Z', char == '_':
			builder.WriteRune(char)
		case char >= '0' && char <= '9':
			if index == 0 {
				builder.WriteRune('_')
			}
			builder.WriteRune(char)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
