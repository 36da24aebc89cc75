package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// PromObs backs ports.Observability with Prometheus collectors and a slog
// logger. Unknown metric names are ignored.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		"relay_cycles_total":               counter("relay_cycles_total", "Relay cycles started."),
		"relay_cycle_failures_total":       counter("relay_cycle_failures_total", "Relay cycles that ended in an error."),
		"relay_meta_inserted_total":        counter("relay_meta_inserted_total", "Metadata records inserted after a fingerprint change."),
		"relay_meta_touched_total":         counter("relay_meta_touched_total", "Metadata records whose timestamp was refreshed."),
		"relay_calls_total":                counter("relay_calls_total", "RPC calls published to the bus."),
		"relay_call_timeouts_total":        counter("relay_call_timeouts_total", "RPC calls that got no reply in time."),
		"relay_uncorrelated_replies_total": counter("relay_uncorrelated_replies_total", "Replies discarded for lack of a waiting call."),
		"relay_spooled_total":              counter("relay_spooled_total", "Payloads written to the spool after a failed delivery."),
	}
	gauges := map[string]prometheus.Gauge{
		"relay_spool_pending": prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_spool_pending",
			Help: "Spooled payloads awaiting delivery.",
		}),
	}
	callLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_call_latency_seconds",
		Help:    "Time from publish to correlated reply.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_cycle_duration_seconds",
		Help:    "Wall time of one relay cycle, excluding the sleep.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	if reg != nil {
		for _, c := range counters {
			reg.MustRegister(c)
		}
		for _, g := range gauges {
			reg.MustRegister(g)
		}
		reg.MustRegister(callLatency, cycleDuration)
	}

	return &PromObs{
		logger:   logger,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			"relay_call_latency_seconds":   callLatency,
			"relay_cycle_duration_seconds": cycleDuration,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(nil, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, attrs(err, fields)...)
}

// LogCritical marks conditions that stop the relay.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(err, fields), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func attrs(err error, fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	if err != nil {
		out = append(out, slog.String("err", err.Error()))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
