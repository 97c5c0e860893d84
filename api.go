package compteur

import (
	"github.com/Apsharan/Compteur/internal/app/config"
	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/pkg/relay"
)

// Re-exported errors for convenience.
var (
	ErrNoData      = domain.ErrNoData
	ErrValveLocked = domain.ErrValveLocked
)

// Type aliases so consumers can import github.com/Apsharan/Compteur directly.
type (
	Config         = config.Config
	MQTTConfig     = config.MQTTConfig
	StorageConfig  = config.StorageConfig
	HTTPConfig     = config.HTTPConfig
	MetricsConfig  = config.MetricsConfig
	FlowConfig     = config.FlowConfig
	Runtime        = relay.Runtime
	Option         = relay.Option
	SensorReading  = domain.SensorReading
	TelemetryPoint = domain.TelemetryPoint
	FlowRate       = domain.FlowRate
	Event          = domain.Event
	Mode           = domain.Mode
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return relay.LoadConfig(path)
}

// Runtime helpers.
func New(cfg *Config, opts ...Option) (*Runtime, error) {
	return relay.New(cfg, opts...)
}

// Dependency overrides.
var (
	WithStore         = relay.WithStore
	WithBus           = relay.WithBus
	WithBroadcaster   = relay.WithBroadcaster
	WithObservability = relay.WithObservability
)
