package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider is a Provider backed by prometheus client_golang
// vector instruments, registered against a caller-supplied Registerer.
// Use it when the host already exposes a /metrics endpoint and wants the
// kernel's counters and histograms folded into the same registry;
// otherwise NewBasicProvider or NewNoopProvider are lighter choices.
type PrometheusProvider struct {
	reg prometheus.Registerer

	counters   map[string]*prometheus.CounterVec
	updowns    map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusProvider constructs a PrometheusProvider that registers
// instruments against reg as they are first created.
func NewPrometheusProvider(reg prometheus.Registerer) *PrometheusProvider {
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		updowns:    make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	cfg := applyOptions(opts)
	if c, ok := p.counters[name]; ok {
		return &prometheusCounter{vec: c, labels: cfg.Attributes}
	}
	labelNames := attributeKeys(cfg.Attributes)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: helpOrDefault(cfg.Description, name),
	}, labelNames)
	p.reg.MustRegister(vec)
	p.counters[name] = vec
	return &prometheusCounter{vec: vec, labels: cfg.Attributes}
}

func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	cfg := applyOptions(opts)
	if g, ok := p.updowns[name]; ok {
		return &prometheusUpDownCounter{vec: g, labels: cfg.Attributes}
	}
	labelNames := attributeKeys(cfg.Attributes)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: helpOrDefault(cfg.Description, name),
	}, labelNames)
	p.reg.MustRegister(vec)
	p.updowns[name] = vec
	return &prometheusUpDownCounter{vec: vec, labels: cfg.Attributes}
}

func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	cfg := applyOptions(opts)
	if h, ok := p.histograms[name]; ok {
		return &prometheusHistogram{vec: h, labels: cfg.Attributes}
	}
	labelNames := attributeKeys(cfg.Attributes)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: name,
		Help: helpOrDefault(cfg.Description, name),
	}, labelNames)
	p.reg.MustRegister(vec)
	p.histograms[name] = vec
	return &prometheusHistogram{vec: vec, labels: cfg.Attributes}
}

func helpOrDefault(desc, name string) string {
	if desc != "" {
		return desc
	}
	return name + " (no description provided)"
}

func attributeKeys(attrs map[string]string) []string {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	return keys
}

type prometheusCounter struct {
	vec    *prometheus.CounterVec
	labels map[string]string
}

func (c *prometheusCounter) Add(n int64) {
	c.vec.With(prometheus.Labels(c.labels)).Add(float64(n))
}

type prometheusUpDownCounter struct {
	vec    *prometheus.GaugeVec
	labels map[string]string
}

func (g *prometheusUpDownCounter) Add(n int64) {
	g.vec.With(prometheus.Labels(g.labels)).Add(float64(n))
}

type prometheusHistogram struct {
	vec    *prometheus.HistogramVec
	labels map[string]string
}

func (h *prometheusHistogram) Record(v float64) {
	h.vec.With(prometheus.Labels(h.labels)).Observe(v)
}
