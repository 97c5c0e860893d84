package flow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// Params collects the estimator's dependencies and tuning.
type Params struct {
	Store       ports.TelemetryStore
	Broadcaster ports.Broadcaster
	Obs         ports.Observability

	// Window is the trailing query range, Bucket the downsample interval.
	Window time.Duration
	Bucket time.Duration

	// Calibration converts averaged counter pulses to liters per minute.
	Calibration float64

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Estimator derives a windowed flow rate from recent counter history.
//
// Downsample policy: fixed buckets keyed from the window start, keeping the
// maximum counter value seen in each bucket; buckets with no points are
// skipped. The flow is the average of the successive differences of that
// series. Negative differences are discarded as counter-reset noise; zero
// differences are legitimate no-flow samples and stay in the average. An
// empty difference sequence is the defined "no flow" state, not an error.
type Estimator struct {
	store       ports.TelemetryStore
	bc          ports.Broadcaster
	obs         ports.Observability
	window      time.Duration
	bucket      time.Duration
	calibration float64
	now         func() time.Time
}

func New(p Params) *Estimator {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Bucket <= 0 {
		p.Bucket = time.Second
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Estimator{
		store:       p.Store,
		bc:          p.Broadcaster,
		obs:         p.Obs,
		window:      p.Window,
		bucket:      p.Bucket,
		calibration: p.Calibration,
		now:         p.Now,
	}
}

// Compute queries the trailing window, derives the flow rate and broadcasts
// it as a debit_update before returning.
func (e *Estimator) Compute(ctx context.Context) (domain.FlowRate, error) {
	series, err := e.store.UsageSeries(ctx, e.window)
	if err != nil {
		return domain.FlowRate{}, fmt.Errorf("query usage window: %w", err)
	}

	diffs := differences(e.downsample(series))

	rate := domain.FlowRate{
		Unit:     "pulses/min",
		Duration: durationLabel(e.window),
	}
	if len(diffs) > 0 {
		var sum float64
		for _, d := range diffs {
			sum += d
		}
		avg := sum / float64(len(diffs))
		rate.AverageFlowRate = round(avg, 2)
		rate.LitersPerMinute = round(avg*e.calibration, 3)
	}

	e.bc.Broadcast(domain.DebitUpdate(rate))
	return rate, nil
}

// downsample reduces irregular arrivals to at most one value per bucket,
// keeping the maximum counter value seen in each. Input is ordered oldest
// first; output preserves bucket order.
func (e *Estimator) downsample(series []domain.UsagePoint) []float64 {
	if len(series) == 0 {
		return nil
	}

	start := e.now().Add(-e.window)
	var (
		out     []float64
		current = -1
	)
	for _, p := range series {
		idx := int(p.Timestamp.Sub(start) / e.bucket)
		if idx < 0 {
			idx = 0
		}
		if idx != current {
			out = append(out, p.WaterUsed)
			current = idx
			continue
		}
		if p.WaterUsed > out[len(out)-1] {
			out[len(out)-1] = p.WaterUsed
		}
	}
	return out
}

func differences(values []float64) []float64 {
	var diffs []float64
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d < 0 {
			// Counter reset, never negative flow.
			continue
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func durationLabel(window time.Duration) string {
	if window == time.Minute {
		return "last 1 minute"
	}
	return "last " + window.String()
}
