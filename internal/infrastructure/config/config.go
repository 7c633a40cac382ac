package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the device example.
// Values come from defaults, an optional YAML file, environment variables
// and finally command-line flags (applied by the caller).
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains the device identity and credential settings.
type DeviceConfig struct {
	ID             string `yaml:"id"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Algorithm      string `yaml:"algorithm"`

	// Audience is the host part of the token audience:
	// https://{audience}/devices/{id}
	Audience string `yaml:"audience"`

	// TokenExpMinutes is the lifetime of the signed credential.
	TokenExpMinutes int `yaml:"token_exp_minutes"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	QoS            int                 `yaml:"qos"`
	ConnectTimeout time.Duration       `yaml:"connect_timeout"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CAFile is an optional PEM bundle of trusted roots.
	// The system pool is used when empty.
	CAFile string `yaml:"ca_file"`
}

// MQTTReconnectConfig contains the connect backoff policy.
type MQTTReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// TelemetryConfig contains the publish loop and downlink wait settings.
type TelemetryConfig struct {
	NumMessages     int           `yaml:"num_messages"`
	Interval        time.Duration `yaml:"interval"`
	WaitTimeSeconds int           `yaml:"wait_time_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// An empty path skips step 2. Load does not validate: command-line flags
// are applied afterwards, so callers run Validate once everything is merged.
//
// Environment variables follow the pattern: AKENZA_KEY
// For example: AKENZA_DEVICE_ID, AKENZA_MQTT_HOSTNAME
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Audience:        "akenza.io",
			TokenExpMinutes: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "mqtt.akenza.io",
				Port: 8883,
			},
			QoS:            1,
			ConnectTimeout: 30 * time.Second,
			Reconnect: MQTTReconnectConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     6000 * time.Millisecond,
				Multiplier:      1.5,
				MaxElapsed:      900000 * time.Millisecond,
			},
		},
		Telemetry: TelemetryConfig{
			NumMessages:     100,
			Interval:        time.Second,
			WaitTimeSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AKENZA_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("AKENZA_PRIVATE_KEY_FILE"); v != "" {
		cfg.Device.PrivateKeyFile = v
	}
	if v := os.Getenv("AKENZA_ALGORITHM"); v != "" {
		cfg.Device.Algorithm = v
	}
	if v := os.Getenv("AKENZA_MQTT_HOSTNAME"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AKENZA_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AKENZA_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("AKENZA_CA_FILE"); v != "" {
		cfg.MQTT.Broker.CAFile = v
	}
	if v := os.Getenv("AKENZA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// All problems are collected into a single error so a user sees
// every missing setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device id is required")
	}
	if c.Device.PrivateKeyFile == "" {
		errs = append(errs, "private key file is required")
	}
	// The algorithm value itself is checked by the credential builder.
	if c.Device.Algorithm == "" {
		errs = append(errs, "algorithm is required")
	}
	if c.Device.Audience == "" {
		errs = append(errs, "audience is required")
	}
	if c.Device.TokenExpMinutes < 1 {
		errs = append(errs, "token_exp_minutes must be at least 1")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt hostname is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt port must be between 1 and 65535")
	}
	// QoS 2 two-phase acknowledgement is not supported.
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt qos must be 0 or 1")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt connect_timeout must be positive")
	}

	r := c.MQTT.Reconnect
	if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
		errs = append(errs, "mqtt reconnect intervals must satisfy 0 < initial_interval <= max_interval")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "mqtt reconnect multiplier must be at least 1")
	}
	if r.MaxElapsed <= 0 {
		errs = append(errs, "mqtt reconnect max_elapsed must be positive")
	}

	if c.Telemetry.NumMessages < 0 {
		errs = append(errs, "num_messages must not be negative")
	}
	if c.Telemetry.Interval < 0 {
		errs = append(errs, "telemetry interval must not be negative")
	}
	if c.Telemetry.WaitTimeSeconds < 0 {
		errs = append(errs, "wait_time_seconds must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the TLS broker address, e.g. ssl://mqtt.akenza.io:8883.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("ssl://%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// TokenTTL returns the credential lifetime as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Device.TokenExpMinutes) * time.Minute
}

// WaitTime returns the downlink wait phase duration.
func (c *Config) WaitTime() time.Duration {
	return time.Duration(c.Telemetry.WaitTimeSeconds) * time.Second
}
