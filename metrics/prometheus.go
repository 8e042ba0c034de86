package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// counterDefs/gaugeDefs/histogramDefs describe the stable metric names and
// label sets from spec.md §6, registered at construction. Each is a
// labelled vector, so a series appears in the exported output only once
// its label combination has first been observed.
var counterDefs = []struct {
	name   string
	labels []string
}{
	{"watch_tower_reorg_total", []string{"chain_id"}},
	{"watch_tower_events_processed_total", []string{"chain_id", "outcome"}},
	{"watch_tower_orderbook_discrete_orders_total", []string{"chain_id", "handler", "owner", "id"}},
	{"watch_tower_orderbook_errors_total", []string{"chain_id", "handler", "owner", "id", "status", "error"}},
	{"watch_tower_polling_attempts_total", []string{"chain_id"}},
	{"watch_tower_polling_errors_total", []string{"chain_id"}},
}

var gaugeDefs = []struct {
	name   string
	labels []string
}{
	{"watch_tower_block_height", []string{"chain_id"}},
	{"watch_tower_block_time_seconds", []string{"chain_id"}},
	{"watch_tower_reorg_depth", []string{"chain_id"}},
	{"watch_tower_active_owners_total", []string{"chain_id"}},
	{"watch_tower_active_orders_total", []string{"chain_id"}},
}

var histogramDefs = []struct {
	name    string
	labels  []string
	buckets []float64
}{
	{"watch_tower_process_block_duration_seconds", []string{"chain_id"}, prometheus.DefBuckets},
	{"watch_tower_polling_duration_seconds", []string{"chain_id"}, prometheus.DefBuckets},
}

// Prometheus is the production Sink implementation: every metric named in
// spec.md §6 is registered up front against the supplied registerer.
type Prometheus struct {
	log        *slog.Logger
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus constructs and registers every stable metric against reg.
func NewPrometheus(reg prometheus.Registerer, log *slog.Logger) *Prometheus {
	p := &Prometheus{
		log:        log,
		counters:   make(map[string]*prometheus.CounterVec, len(counterDefs)),
		gauges:     make(map[string]*prometheus.GaugeVec, len(gaugeDefs)),
		histograms: make(map[string]*prometheus.HistogramVec, len(histogramDefs)),
	}
	for _, d := range counterDefs {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: d.name, Help: d.name}, d.labels)
		reg.MustRegister(vec)
		p.counters[d.name] = vec
	}
	for _, d := range gaugeDefs {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: d.name, Help: d.name}, d.labels)
		reg.MustRegister(vec)
		p.gauges[d.name] = vec
	}
	for _, d := range histogramDefs {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: d.name, Help: d.name, Buckets: d.buckets}, d.labels)
		reg.MustRegister(vec)
		p.histograms[d.name] = vec
	}
	return p
}

func (p *Prometheus) labelValues(labelNames []string, labels map[string]string) []string {
	values := make([]string, len(labelNames))
	for i, name := range labelNames {
		values[i] = labels[name]
	}
	return values
}

func (p *Prometheus) IncCounter(name string, labels map[string]string) {
	p.AddCounter(name, 1, labels)
}

func (p *Prometheus) AddCounter(name string, value float64, labels map[string]string) {
	vec, ok := p.counters[name]
	if !ok {
		p.warnUnknown(name)
		return
	}
	c, err := vec.GetMetricWithLabelValues(p.labelValues(labelOrderFor(counterDefs, name), labels)...)
	if err != nil {
		return
	}
	c.Add(value)
}

func (p *Prometheus) SetGauge(name string, value float64, labels map[string]string) {
	vec, ok := p.gauges[name]
	if !ok {
		p.warnUnknown(name)
		return
	}
	g, err := vec.GetMetricWithLabelValues(p.labelValues(labelOrderFor(gaugeDefs, name), labels)...)
	if err != nil {
		return
	}
	g.Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, value float64, labels map[string]string) {
	vec, ok := p.histograms[name]
	if !ok {
		p.warnUnknown(name)
		return
	}
	h, err := vec.GetMetricWithLabelValues(p.labelValues(labelOrderForHistogram(name), labels)...)
	if err != nil {
		return
	}
	h.Observe(value)
}

func (p *Prometheus) warnUnknown(name string) {
	if p.log != nil {
		p.log.Warn("metrics: observation for unregistered metric name dropped", slog.String("name", name))
	}
}

func labelOrderFor(defs []struct {
	name   string
	labels []string
}, name string) []string {
	for _, d := range defs {
		if d.name == name {
			return d.labels
		}
	}
	return nil
}

func labelOrderForHistogram(name string) []string {
	for _, d := range histogramDefs {
		if d.name == name {
			return d.labels
		}
	}
	return nil
}
