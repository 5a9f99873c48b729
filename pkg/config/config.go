package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/pkg/coordinator"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BLEADV_"

var ErrInvalidConfig = errors.New("invalid configuration")

// OutputFormats lists the accepted values of Config.OutputFormat.
var OutputFormats = []string{"text", "json"}

// Config holds application configuration
type Config struct {
	LogLevel     string        `yaml:"log_level" env:"LOG_LEVEL" default:"info"`
	OutputFormat string        `yaml:"output_format" env:"OUTPUT_FORMAT" default:"text"`
	ScanTimeout  time.Duration `yaml:"scan_timeout" env:"SCAN_TIMEOUT" default:"10s"`

	// IgnoreHost disables the local controllers (MGMT + raw HCI).
	IgnoreHost  bool          `yaml:"ignore_host" env:"IGNORE_HOST"`
	HCIMode     adapter.Mode  `yaml:"hci_mode" env:"HCI_MODE" default:"auto"`
	HostScan    bool          `yaml:"host_scan" env:"HOST_SCAN"`
	DedupWindow time.Duration `yaml:"dedup_window" env:"DEDUP_WINDOW" default:"10s"`
	MetricsAddr string        `yaml:"metrics_addr" env:"METRICS_ADDR"`

	MQTT    MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	Devices []DeviceConfig `yaml:"devices"`
}

// MQTTConfig configures the proxy adapters; an empty broker disables them.
type MQTTConfig struct {
	Broker      string        `yaml:"broker" env:"BROKER"`
	ClientID    string        `yaml:"client_id" env:"CLIENT_ID"`
	TopicPrefix string        `yaml:"topic_prefix" env:"TOPIC_PREFIX" default:"bleadv"`
	Breaker     BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" env:"MAX_FAILURES" default:"5"`
	Interval    time.Duration `yaml:"interval" env:"INTERVAL" default:"60s"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT" default:"30s"`
}

// DeviceConfig describes one controlled device. Zero transmit parameters
// use the codec defaults.
type DeviceConfig struct {
	Name     string         `yaml:"name"`
	Codec    string         `yaml:"codec"`
	Adapters []string       `yaml:"adapters"`
	ID       uint32         `yaml:"id"`
	Index    uint8          `yaml:"index"`
	Repeat   int            `yaml:"repeat"`
	Interval time.Duration  `yaml:"interval"`
	Duration time.Duration  `yaml:"duration"`
	Entities []EntityConfig `yaml:"entities"`
	Remotes  []RemoteConfig `yaml:"remotes"`
}

type EntityConfig struct {
	Type    string `yaml:"type"`
	Index   int    `yaml:"index"`
	SubType string `yaml:"sub_type"`
}

// RemoteConfig is an emitter whose commands the device follows.
type RemoteConfig struct {
	Codec    string   `yaml:"codec"`
	Adapters []string `yaml:"adapters"`
	ID       uint32   `yaml:"id"`
	Index    uint8    `yaml:"index"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.MQTT)
	defaults.SetDefaults(&cfg.MQTT.Breaker)
	return cfg
}

// Load reads the YAML file at path (skipped when empty) over the defaults,
// then applies the BLEADV_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	// devices only come from the file
	devices := cfg.Devices
	cfg.Devices = nil
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrInvalidConfig, err)
	}
	cfg.Devices = devices
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}

// Validate checks values that the type system cannot.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("%w: output format %q", ErrInvalidConfig, c.OutputFormat)
	}
	if !slices.Contains([]adapter.Mode{adapter.ModeAuto, adapter.ModeLegacy, adapter.ModeExtended}, c.HCIMode) {
		return fmt.Errorf("%w: hci mode %q", ErrInvalidConfig, c.HCIMode)
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("%w: device #%d has no name", ErrInvalidConfig, i)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate device %q", ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
		if d.Codec == "" || len(d.Adapters) == 0 {
			return fmt.Errorf("%w: device %q needs a codec and an adapter", ErrInvalidConfig, d.Name)
		}
		for _, r := range d.Remotes {
			if r.Codec == "" {
				return fmt.Errorf("%w: device %q: remote without codec", ErrInvalidConfig, d.Name)
			}
		}
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ProxyOptions returns the MQTT proxy settings, nil when no broker is set.
func (c *Config) ProxyOptions() *adapter.ProxyOptions {
	if c.MQTT.Broker == "" {
		return nil
	}
	return &adapter.ProxyOptions{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		Breaker: adapter.BreakerSettings{
			MaxFailures: c.MQTT.Breaker.MaxFailures,
			Interval:    c.MQTT.Breaker.Interval,
			Timeout:     c.MQTT.Breaker.Timeout,
		},
	}
}

// CoordinatorOptions maps the adapter settings; registry, logger and
// metrics are left to the caller.
func (c *Config) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		UseHCI:      !c.IgnoreHost,
		HCIMode:     c.HCIMode,
		HostScan:    c.HostScan,
		Proxy:       c.ProxyOptions(),
		DedupWindow: c.DedupWindow,
	}
}
