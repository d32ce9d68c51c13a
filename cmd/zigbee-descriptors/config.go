package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"zigbee-descriptors/internal/coordinator"
	"zigbee-descriptors/internal/ncp"
)

type Config struct {
	Store struct {
		Path string `yaml:"path" envconfig:"STORE_PATH"`
	} `yaml:"store"`
	DescriptorsDir string `yaml:"descriptors_dir" envconfig:"DESCRIPTORS_DIR"`
	MQTT           struct {
		Enabled     bool   `yaml:"enabled" envconfig:"MQTT_ENABLED"`
		Broker      string `yaml:"broker" envconfig:"MQTT_BROKER"`
		ClientID    string `yaml:"client_id" envconfig:"MQTT_CLIENT_ID"`
		Username    string `yaml:"username" envconfig:"MQTT_USERNAME"`
		Password    string `yaml:"password" envconfig:"MQTT_PASSWORD"`
		TopicPrefix string `yaml:"topic_prefix" envconfig:"MQTT_TOPIC_PREFIX"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen" envconfig:"WEB_LISTEN"`
		APIKey         string   `yaml:"api_key" envconfig:"WEB_API_KEY"`
		AllowedOrigins []string `yaml:"allowed_origins" envconfig:"WEB_ALLOWED_ORIGINS"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
		Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	} `yaml:"log"`
	Configure struct {
		Attempts int           `yaml:"attempts" envconfig:"CONFIGURE_ATTEMPTS"`
		Backoff  time.Duration `yaml:"backoff" envconfig:"CONFIGURE_BACKOFF"`
	} `yaml:"configure"`
	Simulate struct {
		CoordinatorIEEE string            `yaml:"coordinator_ieee"`
		Devices         []SimulatedDevice `yaml:"devices"`
	} `yaml:"simulate" ignored:"true"`
}

// SimulatedDevice is a virtual device joined by the simulate command. Fail
// lists request kinds (bind, configure_reporting, ...) that time out once.
type SimulatedDevice struct {
	IEEE         string            `yaml:"ieee"`
	ShortAddr    uint16            `yaml:"short_addr"`
	Manufacturer string            `yaml:"manufacturer"`
	Model        string            `yaml:"model"`
	Endpoints    []ncp.SimEndpoint `yaml:"endpoints"`
	Unreachable  bool              `yaml:"unreachable"`
	Fail         []string          `yaml:"fail"`
}

var failKinds = map[string]bool{
	ncp.KindActiveEndpoints:    true,
	ncp.KindSimpleDescriptor:   true,
	ncp.KindReadAttributes:     true,
	ncp.KindBind:               true,
	ncp.KindUnbind:             true,
	ncp.KindConfigureReporting: true,
}

func (d SimulatedDevice) simDevice() (ncp.SimDevice, error) {
	ieee, err := coordinator.ParseIEEE(d.IEEE)
	if err != nil {
		return ncp.SimDevice{}, fmt.Errorf("device %q: %w", d.IEEE, err)
	}
	return ncp.SimDevice{
		IEEE:         ieee,
		ShortAddr:    d.ShortAddr,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Endpoints:    d.Endpoints,
		Unreachable:  d.Unreachable,
	}, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Configure.Attempts < 1 {
		return fmt.Errorf("configure.attempts must be at least 1, got %d", c.Configure.Attempts)
	}
	if c.Configure.Backoff < 0 {
		return fmt.Errorf("configure.backoff must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if _, err := coordinator.ParseIEEE(c.Simulate.CoordinatorIEEE); err != nil {
		return fmt.Errorf("simulate.coordinator_ieee: %w", err)
	}

	seenIEEE := make(map[string]bool)
	seenShort := make(map[uint16]bool)
	for i, d := range c.Simulate.Devices {
		if _, err := d.simDevice(); err != nil {
			return fmt.Errorf("simulate.devices[%d]: %w", i, err)
		}
		key := strings.ToUpper(strings.ReplaceAll(d.IEEE, ":", ""))
		if seenIEEE[key] {
			return fmt.Errorf("simulate.devices[%d]: duplicate ieee %s", i, d.IEEE)
		}
		seenIEEE[key] = true
		if d.ShortAddr == 0 || d.ShortAddr >= 0xFFF8 {
			return fmt.Errorf("simulate.devices[%d]: short_addr 0x%04X out of range", i, d.ShortAddr)
		}
		if seenShort[d.ShortAddr] {
			return fmt.Errorf("simulate.devices[%d]: duplicate short_addr 0x%04X", i, d.ShortAddr)
		}
		seenShort[d.ShortAddr] = true
		for _, kind := range d.Fail {
			if !failKinds[kind] {
				return fmt.Errorf("simulate.devices[%d]: unknown fail kind %q", i, kind)
			}
		}
	}
	return nil
}

// loadConfig reads the yaml file, then applies environment overrides. A
// missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-descriptors.db"
	}
	if cfg.DescriptorsDir == "" {
		cfg.DescriptorsDir = "descriptors"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Configure.Attempts == 0 {
		cfg.Configure.Attempts = 3
	}
	if cfg.Configure.Backoff == 0 {
		cfg.Configure.Backoff = 2 * time.Second
	}
	if cfg.Simulate.CoordinatorIEEE == "" {
		cfg.Simulate.CoordinatorIEEE = "00124B0000000001"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
