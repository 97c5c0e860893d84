package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Flow    FlowConfig    `yaml:"flow"`
}

type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	QoS            byte     `yaml:"qos"`
	DataTopic      string   `yaml:"data_topic"`
	ModeTopic      string   `yaml:"mode_topic"`
	ValveTopic     string   `yaml:"valve_topic"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

type StorageConfig struct {
	ConnString   string   `yaml:"conn_string"`
	Table        string   `yaml:"table"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	APIKey   string `yaml:"api_key"`
	Timezone string `yaml:"timezone"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type FlowConfig struct {
	Window Duration `yaml:"window"`
	Bucket Duration `yaml:"bucket"`
	// Calibration converts averaged counter pulses to liters per minute.
	Calibration float64 `yaml:"calibration"`
}

// Load reads a YAML config file, expands ${ENV} references so secrets can
// stay out of the file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "compteur-relay"
	}
	if c.MQTT.DataTopic == "" {
		c.MQTT.DataTopic = "water-meter/data"
	}
	if c.MQTT.ModeTopic == "" {
		c.MQTT.ModeTopic = "water-meter/mode"
	}
	if c.MQTT.ValveTopic == "" {
		c.MQTT.ValveTopic = "water-meter/valve"
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = Duration(5 * time.Second)
	}
	if c.Storage.Table == "" {
		c.Storage.Table = "water_usage"
	}
	if c.Storage.QueryTimeout == 0 {
		c.Storage.QueryTimeout = Duration(5 * time.Second)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3000"
	}
	if c.HTTP.Timezone == "" {
		c.HTTP.Timezone = "Europe/Paris"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Flow.Window == 0 {
		c.Flow.Window = Duration(time.Minute)
	}
	if c.Flow.Bucket == 0 {
		c.Flow.Bucket = Duration(time.Second)
	}
	if c.Flow.Calibration == 0 {
		c.Flow.Calibration = 0.0025
	}
}

func (c *Config) validate() error {
	if c.Storage.ConnString == "" {
		return fmt.Errorf("storage.conn_string is required")
	}
	if c.HTTP.APIKey == "" {
		return fmt.Errorf("http.api_key is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.Flow.Bucket.Std() <= 0 {
		return fmt.Errorf("flow.bucket must be positive")
	}
	if c.Flow.Window.Std() < c.Flow.Bucket.Std() {
		return fmt.Errorf("flow.window must be at least one bucket")
	}
	if c.Flow.Calibration <= 0 {
		return fmt.Errorf("flow.calibration must be positive")
	}
	return nil
}
