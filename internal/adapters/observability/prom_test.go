package observability

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegisteredAndIncremented(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(slog.New(slog.DiscardHandler), reg)

	obs.IncCounter("relay_points_written_total", 1)
	obs.IncCounter("relay_points_written_total", 2)
	obs.IncCounter("relay_messages_rejected_total", 1)

	if got := testutil.ToFloat64(obs.counters["relay_points_written_total"]); got != 3 {
		t.Fatalf("expected 3 points written, got %f", got)
	}
	if got := testutil.ToFloat64(obs.counters["relay_messages_rejected_total"]); got != 1 {
		t.Fatalf("expected 1 rejected message, got %f", got)
	}
}

func TestUnknownMetricNamesAreIgnored(t *testing.T) {
	obs := Nop()

	// Must not panic.
	obs.IncCounter("no_such_counter", 1)
	obs.SetGauge("no_such_gauge", 1)
	obs.ObserveLatency("no_such_histogram", 0.5)
}

func TestGaugeTracksViewerSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(slog.New(slog.DiscardHandler), reg)

	obs.SetGauge("relay_viewer_sessions", 4)
	if got := testutil.ToFloat64(obs.gauges["relay_viewer_sessions"]); got != 4 {
		t.Fatalf("expected gauge 4, got %f", got)
	}

	obs.SetGauge("relay_viewer_sessions", 0)
	if got := testutil.ToFloat64(obs.gauges["relay_viewer_sessions"]); got != 0 {
		t.Fatalf("expected gauge 0, got %f", got)
	}
}
