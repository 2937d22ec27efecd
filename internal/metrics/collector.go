package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hgpeer/internal/workflow"
)

// DefaultNamespace prefixes every metric name unless overridden.
const DefaultNamespace = "hgpeer"

// Collector turns engine events into Prometheus metrics.
//
// Thread-safety: safe for concurrent use; Observe may be called from every
// worker of every manager it is attached to.
type Collector struct {
	created     *prometheus.CounterVec
	finished    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	messages    *prometheus.CounterVec
	actions     *prometheus.HistogramVec
	live        prometheus.Gauge
}

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace   string
	constLabels prometheus.Labels
	buckets     []float64
}

// WithNamespace sets the metric name prefix.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithConstLabels attaches fixed labels, typically the peer name, to
// every metric.
func WithConstLabels(l prometheus.Labels) Option {
	return func(o *options) { o.constLabels = l }
}

// WithBuckets overrides the action duration histogram buckets.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// NewCollector creates a Collector. It must be registered before its
// metrics are exported.
func NewCollector(opts ...Option) *Collector {
	o := options{namespace: DefaultNamespace, buckets: prometheus.ExponentialBuckets(0.0001, 4, 10)}
	for _, opt := range opts {
		opt(&o)
	}

	return &Collector{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "activities_created_total",
			Help:        "Activities registered, by type and origin.",
			ConstLabels: o.constLabels,
		}, []string{"type", "origin"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "activities_finished_total",
			Help:        "Activities that reached a terminal state, by type and state.",
			ConstLabels: o.constLabels,
		}, []string{"type", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "transitions_total",
			Help:        "Activity state changes, by type and target state.",
			ConstLabels: o.constLabels,
		}, []string{"type", "to"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "messages_total",
			Help:        "Messages received and sent, by direction and performative.",
			ConstLabels: o.constLabels,
		}, []string{"direction", "performative"}),
		actions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "action_duration_seconds",
			Help:        "Time spent executing scheduled actions, by activity type.",
			ConstLabels: o.constLabels,
			Buckets:     o.buckets,
		}, []string{"type"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "activities_live",
			Help:        "Activities registered and not yet finished.",
			ConstLabels: o.constLabels,
		}),
	}
}

var (
	_ workflow.Observer    = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.created.Describe(ch)
	c.finished.Describe(ch)
	c.transitions.Describe(ch)
	c.messages.Describe(ch)
	c.actions.Describe(ch)
	c.live.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.created.Collect(ch)
	c.finished.Collect(ch)
	c.transitions.Collect(ch)
	c.messages.Collect(ch)
	c.actions.Collect(ch)
	c.live.Collect(ch)
}

// Observe implements workflow.Observer.
func (c *Collector) Observe(ev workflow.Event) {
	switch ev.Type {
	case workflow.EventActivityCreated:
		c.created.WithLabelValues(ev.Activity.Type(), string(ev.Origin)).Inc()
		c.live.Inc()
	case workflow.EventActivityFinished:
		c.finished.WithLabelValues(ev.Activity.Type(), string(ev.To)).Inc()
		c.live.Dec()
	case workflow.EventStateChanged:
		c.transitions.WithLabelValues(ev.Activity.Type(), string(ev.To)).Inc()
	case workflow.EventMessageReceived:
		c.messages.WithLabelValues("in", performative(ev)).Inc()
	case workflow.EventMessageSent:
		c.messages.WithLabelValues("out", performative(ev)).Inc()
	case workflow.EventActionExecuted:
		c.actions.WithLabelValues(ev.Activity.Type()).Observe(ev.Elapsed.Seconds())
	}
}

func performative(ev workflow.Event) string {
	p := string(ev.Message.Performative())
	if p == "" {
		return "unknown"
	}
	return p
}
