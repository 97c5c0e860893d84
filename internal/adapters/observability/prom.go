package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Apsharan/Compteur/internal/ports"
)

// Obs backs the Observability port with slog for structured logging and
// Prometheus for metrics. Metric names are fixed at construction; unknown
// names are ignored rather than panicking in a hot path.
type Obs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// New registers the relay's metrics on reg. A nil logger falls back to
// slog.Default(); a nil reg falls back to the default registerer.
func New(logger *slog.Logger, reg prometheus.Registerer) *Obs {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	written := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_points_written_total",
		Help: "Telemetry points persisted and broadcast.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_rejected_total",
		Help: "Inbound sensor messages discarded before persistence.",
	})
	broadcasts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcasts_total",
		Help: "Fan-out deliveries attempted across all viewer sessions.",
	})
	commands := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_published_total",
		Help: "Valve and mode commands accepted by the broker.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_dropped_total",
		Help: "Viewer sessions disconnected for falling behind.",
	})
	viewers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_viewer_sessions",
		Help: "Currently connected viewer sessions.",
	})
	flush := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_store_flush_seconds",
		Help:    "Latency of the store write+flush durability boundary.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(written, rejected, broadcasts, commands, dropped, viewers, flush)

	return &Obs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			"relay_points_written_total":     written,
			"relay_messages_rejected_total":  rejected,
			"relay_broadcasts_total":         broadcasts,
			"relay_commands_published_total": commands,
			"relay_sessions_dropped_total":   dropped,
		},
		gauges: map[string]prometheus.Gauge{
			"relay_viewer_sessions": viewers,
		},
		histos: map[string]prometheus.Observer{
			"relay_store_flush_seconds": flush,
		},
	}
}

// Nop returns an Obs suitable for tests: discarded logs, private registry.
func Nop() *Obs {
	return New(slog.New(slog.DiscardHandler), prometheus.NewRegistry())
}

func (o *Obs) LogInfo(msg string, fields ...ports.Field) {
	o.logger.Info(msg, args(fields)...)
}

func (o *Obs) LogWarn(msg string, err error, fields ...ports.Field) {
	o.logger.Warn(msg, append(args(fields), errArg(err)...)...)
}

func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	o.logger.Error(msg, append(args(fields), errArg(err)...)...)
}

func (o *Obs) IncCounter(name string, v float64) {
	if c, ok := o.counters[name]; ok {
		c.Add(v)
	}
}

func (o *Obs) SetGauge(name string, v float64) {
	if g, ok := o.gauges[name]; ok {
		g.Set(v)
	}
}

func (o *Obs) ObserveLatency(name string, seconds float64) {
	if h, ok := o.histos[name]; ok {
		h.Observe(seconds)
	}
}

func args(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2+2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func errArg(err error) []any {
	if err == nil {
		return nil
	}
	return []any{"error", err}
}

var _ ports.Observability = (*Obs)(nil)
