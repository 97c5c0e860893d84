package ports

import (
	"context"
	"time"

	"github.com/Apsharan/Compteur/internal/domain"
)

// TelemetryStore wraps the time-series engine. Append buffers a point in
// memory and never blocks; Flush is the durability boundary — a reading is
// not considered written (and must not be broadcast) until Flush returns nil.
type TelemetryStore interface {
	Append(p *domain.TelemetryPoint)
	Flush(ctx context.Context) error

	// Latest returns the newest point in the trailing window, or
	// domain.ErrNoData when the window is empty.
	Latest(ctx context.Context, window time.Duration) (*domain.TelemetryPoint, error)

	// UsageSeries returns (time, water_used) pairs in the trailing window,
	// oldest first. An empty window yields an empty slice, not an error.
	UsageSeries(ctx context.Context, window time.Duration) ([]domain.UsagePoint, error)
}
