package relay

import (
	"net/http"

	"github.com/Apsharan/Compteur/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	store         ports.TelemetryStore
	bus           ports.MessageBus
	broadcaster   ports.Broadcaster
	observability ports.Observability
}

// WithStore injects a custom telemetry store (alternative engines, fakes).
func WithStore(s ports.TelemetryStore) Option {
	return func(o *overrides) {
		o.store = s
	}
}

// WithBus injects a custom message bus implementation.
func WithBus(b ports.MessageBus) Option {
	return func(o *overrides) {
		o.bus = b
	}
}

// WithBroadcaster injects a custom broadcaster. If it also implements
// http.Handler it is mounted as the viewer socket endpoint.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(o *overrides) {
		o.broadcaster = b
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) {
		o.observability = obs
	}
}

func viewerSocket(b ports.Broadcaster) http.Handler {
	if h, ok := b.(http.Handler); ok {
		return h
	}
	return nil
}
