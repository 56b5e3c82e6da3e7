package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Serial.Port != "auto" || cfg.Serial.Baud != 9600 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Loop.PollInterval.Duration() != 20*time.Millisecond {
		t.Errorf("poll_interval = %v, want 20ms", cfg.Loop.PollInterval.Duration())
	}
	if cfg.Loop.GetSelfTestRounds() != 4 {
		t.Errorf("selftest_rounds = %d, want 4", cfg.Loop.GetSelfTestRounds())
	}
	if cfg.NVRAM.Backend != "sqlite" || cfg.NVRAM.Size != 1024 {
		t.Errorf("nvram = %+v", cfg.NVRAM)
	}
	if !cfg.Ledger.IsEnabled() || cfg.Ledger.Retention() != 30*24*time.Hour {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Hardware.Driver != "noop" {
		t.Errorf("driver = %q, want noop", cfg.Hardware.Driver)
	}
	if cfg.Loop.BodyTimeout.Duration() != time.Second || cfg.Serial.MaxLineLength != 256 {
		t.Errorf("body_timeout = %v, max_line_length = %d", cfg.Loop.BodyTimeout.Duration(), cfg.Serial.MaxLineLength)
	}
	if cfg.GetShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.GetShutdownTimeout())
	}
}

func TestParse_Values(t *testing.T) {
	data := `
serial:
  port: /dev/ttyUSB0
  baud: 115200
  read_timeout: 10ms
hardware:
  driver: periph
  adc: ADS1115_0
  pins:
    green: GPIO5
loop:
  poll_interval: 50ms
  selftest_rounds: 0
ledger:
  enabled: false
log:
  level: DEBUG
  json: true
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.Baud != 115200 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.ReadTimeout.Duration() != 10*time.Millisecond {
		t.Errorf("read_timeout = %v", cfg.Serial.ReadTimeout.Duration())
	}
	if cfg.Hardware.Pins.Green != "GPIO5" || cfg.Hardware.Pins.Red != "GPIO27" {
		t.Errorf("pins = %+v", cfg.Hardware.Pins)
	}
	if cfg.Loop.GetSelfTestRounds() != 0 {
		t.Errorf("selftest_rounds = %d, want 0", cfg.Loop.GetSelfTestRounds())
	}
	if cfg.Ledger.IsEnabled() {
		t.Error("ledger enabled, want disabled")
	}
	if cfg.Log.GetLevel() != "debug" || !cfg.Log.UseJSON {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected string
	}{
		{name: "driver", data: "hardware: {driver: firmata}", expected: "hardware.driver"},
		{name: "periph_without_adc", data: "hardware: {driver: periph}", expected: "hardware.adc"},
		{name: "backend", data: "nvram: {backend: flash}", expected: "nvram.backend"},
		{name: "nvram_size", data: "nvram: {size: 2}", expected: "nvram.size"},
		{name: "mqtt_without_broker", data: "mqtt: {enabled: true}", expected: "mqtt.broker"},
		{name: "line_buffer_too_small", data: "serial: {max_line_length: 24}", expected: "serial.max_line_length"},
		{name: "negative_line_buffer", data: "serial: {max_line_length: -1}", expected: "serial.max_line_length"},
		{name: "negative_body_timeout", data: "loop: {body_timeout: -1s}", expected: "loop.body_timeout"},
		{name: "watchdog_shorter_than_selftest", data: "watchdog: {timeout: 2s}", expected: "watchdog.timeout"},
		{name: "bad_duration", data: "loop: {poll_interval: soon}", expected: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Parse() error = %v, want mention of %q", err, tt.expected)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TOWERD_TEST_PORT", "/dev/ttyACM1")

	tests := []struct {
		input    string
		expected string
	}{
		{input: "port: ${TOWERD_TEST_PORT}", expected: "port: /dev/ttyACM1"},
		{input: "port: ${TOWERD_TEST_PORT:/dev/null}", expected: "port: /dev/ttyACM1"},
		{input: "broker: ${TOWERD_TEST_UNSET:tcp://localhost:1883}", expected: "broker: tcp://localhost:1883"},
		{input: "broker: ${TOWERD_TEST_UNSET}", expected: "broker: "},
		{input: "plain", expected: "plain"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("nvram:\n  backend: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NVRAM.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.NVRAM.Backend)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
