package relay

import (
	"context"
	"testing"
	"time"

	"github.com/Apsharan/Compteur/internal/adapters/observability"
	"github.com/Apsharan/Compteur/internal/app/config"
	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

type stubStore struct{}

func (stubStore) Append(*domain.TelemetryPoint) {}
func (stubStore) Flush(context.Context) error   { return nil }

func (stubStore) Latest(context.Context, time.Duration) (*domain.TelemetryPoint, error) {
	return nil, domain.ErrNoData
}

func (stubStore) UsageSeries(context.Context, time.Duration) ([]domain.UsagePoint, error) {
	return nil, nil
}

type stubBus struct{}

func (stubBus) Subscribe(string, ports.MessageHandler) error { return nil }
func (stubBus) Publish(context.Context, string, []byte) error { return nil }
func (stubBus) Close()                                        {}

type stubBroadcaster struct{}

func (stubBroadcaster) Broadcast(domain.Event) {}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.ConnString = "postgres://localhost/water"
	cfg.HTTP.APIKey = "secret"
	cfg.HTTP.Timezone = "UTC"
	return cfg
}

func TestNewWithOverridesBuildsWithoutNetwork(t *testing.T) {
	rt, err := New(testConfig(),
		WithStore(stubStore{}),
		WithBus(stubBus{}),
		WithBroadcaster(stubBroadcaster{}),
		WithObservability(observability.Nop()),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if rt.api == nil || rt.pipeline == nil {
		t.Fatalf("expected assembled runtime, got %+v", rt)
	}
	if len(rt.closers) != 0 {
		t.Fatalf("overridden dependencies must not register closers")
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Timezone = "Mars/Olympus"

	_, err := New(cfg,
		WithStore(stubStore{}),
		WithBus(stubBus{}),
		WithBroadcaster(stubBroadcaster{}),
		WithObservability(observability.Nop()),
	)
	if err == nil {
		t.Fatalf("expected timezone error")
	}
}
