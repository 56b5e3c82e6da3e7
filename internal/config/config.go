package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinLineLength is the smallest serial.max_line_length that still fits the
// longest request line and header the protocol uses.
const MinLineLength = 32

// Config represents the application configuration
type Config struct {
	Serial          SerialConfig      `yaml:"serial"`
	Hardware        HardwareConfig    `yaml:"hardware"`
	NVRAM           NVRAMConfig       `yaml:"nvram"`
	Loop            LoopConfig        `yaml:"loop"`
	Watchdog        WatchdogConfig    `yaml:"watchdog"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// SerialConfig contains serial link settings
type SerialConfig struct {
	Port          string   `yaml:"port"` // device path or "auto"
	Baud          int      `yaml:"baud"`
	ReadTimeout   Duration `yaml:"read_timeout"`
	RetryInterval Duration `yaml:"retry_interval"`
	VID           string   `yaml:"vid"` // USB vendor id filter for auto-detection
	MaxLineLength int      `yaml:"max_line_length"`
}

// HardwareConfig selects the lamp/sensor driver
type HardwareConfig struct {
	Driver    string    `yaml:"driver"` // periph or noop
	Pins      PinConfig `yaml:"pins"`
	ADC       string    `yaml:"adc"`
	StaticRaw int       `yaml:"static_raw"` // raw ambient sample reported by the noop driver
}

// PinConfig names the lamp GPIO lines
type PinConfig struct {
	Green  string `yaml:"green"`
	Red    string `yaml:"red"`
	Yellow string `yaml:"yellow"`
}

// NVRAMConfig contains settings storage options
type NVRAMConfig struct {
	Backend string `yaml:"backend"` // sqlite or memory
	Path    string `yaml:"path"`
	Device  string `yaml:"device"`
	Size    int    `yaml:"size"`
}

// LoopConfig contains control loop timing
type LoopConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	SelfTestStep   Duration `yaml:"selftest_step"`
	SelfTestRounds *int     `yaml:"selftest_rounds"` // 0 disables the self-test
	BodyTimeout    Duration `yaml:"body_timeout"`    // serve a request whose body stops arriving
}

// GetSelfTestRounds returns the self-test round count with default
func (c *LoopConfig) GetSelfTestRounds() int {
	if c.SelfTestRounds == nil {
		return 4
	}
	return *c.SelfTestRounds
}

// WatchdogConfig contains liveness supervision settings
type WatchdogConfig struct {
	Systemd bool     `yaml:"systemd"` // send WATCHDOG=1 when the unit sets WatchdogSec
	Timeout Duration `yaml:"timeout"` // in-process stall guard, 0 disables
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns the listen host with default
func (c *HealthcheckConfig) GetHost() string {
	if c.Host == "" {
		return "0.0.0.0"
	}
	return c.Host
}

// GetPort returns the listen port with default
func (c *HealthcheckConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// MQTTConfig contains state publishing settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
	BatchSize       int      `yaml:"batch_size"`
	FlushInterval   Duration `yaml:"flush_interval"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Retention returns the retention period
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 256
	}
	return c.QueueSize
}

// SelfTestDuration returns how long the lamp self-test blocks the loop
func (c *Config) SelfTestDuration() time.Duration {
	return time.Duration(c.Loop.GetSelfTestRounds()*3) * c.Loop.SelfTestStep.Duration()
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	// Serial defaults
	if cfg.Serial.Port == "" {
		cfg.Serial.Port = "auto"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = Duration(5 * time.Millisecond)
	}
	if cfg.Serial.RetryInterval == 0 {
		cfg.Serial.RetryInterval = Duration(2 * time.Second)
	}
	if cfg.Serial.MaxLineLength == 0 {
		cfg.Serial.MaxLineLength = 256
	}

	// Hardware defaults
	if cfg.Hardware.Driver == "" {
		cfg.Hardware.Driver = "noop"
	}
	if cfg.Hardware.Pins.Green == "" {
		cfg.Hardware.Pins.Green = "GPIO17"
	}
	if cfg.Hardware.Pins.Red == "" {
		cfg.Hardware.Pins.Red = "GPIO27"
	}
	if cfg.Hardware.Pins.Yellow == "" {
		cfg.Hardware.Pins.Yellow = "GPIO22"
	}

	// NV storage defaults
	if cfg.NVRAM.Backend == "" {
		cfg.NVRAM.Backend = "sqlite"
	}
	if cfg.NVRAM.Path == "" {
		cfg.NVRAM.Path = "./towerd.sqlite"
	}
	if cfg.NVRAM.Device == "" {
		cfg.NVRAM.Device = "eeprom"
	}
	if cfg.NVRAM.Size == 0 {
		cfg.NVRAM.Size = 1024
	}

	// Loop defaults
	if cfg.Loop.PollInterval == 0 {
		cfg.Loop.PollInterval = Duration(20 * time.Millisecond)
	}
	if cfg.Loop.SelfTestStep == 0 {
		cfg.Loop.SelfTestStep = Duration(200 * time.Millisecond)
	}
	if cfg.Loop.BodyTimeout == 0 {
		cfg.Loop.BodyTimeout = Duration(time.Second)
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "towerd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "towerd"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.BatchSize == 0 {
		cfg.Ledger.BatchSize = 32
	}
	if cfg.Ledger.FlushInterval == 0 {
		cfg.Ledger.FlushInterval = Duration(time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks option values that have no usable default
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Hardware.Driver {
	case "periph":
		if cfg.Hardware.ADC == "" {
			errs = append(errs, errors.New("hardware.adc is required for the periph driver"))
		}
	case "noop":
	default:
		errs = append(errs, fmt.Errorf("hardware.driver %q must be periph or noop", cfg.Hardware.Driver))
	}

	switch cfg.NVRAM.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("nvram.backend %q must be sqlite or memory", cfg.NVRAM.Backend))
	}
	if cfg.NVRAM.Size < 4 {
		errs = append(errs, fmt.Errorf("nvram.size %d is too small for the settings layout", cfg.NVRAM.Size))
	}

	if cfg.Serial.MaxLineLength < MinLineLength {
		errs = append(errs, fmt.Errorf("serial.max_line_length %d must be at least %d", cfg.Serial.MaxLineLength, MinLineLength))
	}
	if cfg.Serial.Baud < 0 {
		errs = append(errs, fmt.Errorf("serial.baud %d must be positive", cfg.Serial.Baud))
	}
	if cfg.Loop.PollInterval < 0 {
		errs = append(errs, errors.New("loop.poll_interval must be positive"))
	}
	if cfg.Loop.BodyTimeout < 0 {
		errs = append(errs, errors.New("loop.body_timeout must be positive"))
	}
	if cfg.Loop.GetSelfTestRounds() < 0 {
		errs = append(errs, errors.New("loop.selftest_rounds must not be negative"))
	}
	// A reset runs the self-test inside the loop without kicking
	if t := cfg.Watchdog.Timeout.Duration(); t > 0 && t <= cfg.SelfTestDuration() {
		errs = append(errs, fmt.Errorf("watchdog.timeout %s must exceed the self-test duration %s", t, cfg.SelfTestDuration()))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
