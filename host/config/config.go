package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pulsgen/core"
)

// Config is the host side configuration of a pulse generator co-processor
type Config struct {
	Device        string `json:"device"`          // Serial device, or "sim" for the simulated device
	Baud          int    `json:"baud"`            // Ignored by USB CDC
	ReadTimeoutMs int    `json:"read_timeout_ms"` // Serial read timeout

	KeepAliveMs    int `json:"keepalive_ms"`     // Ping period, 0 disables keepalive
	WatchdogMs     int `json:"watchdog_ms"`      // Device watchdog timeout, 0 disables it
	QueryTimeoutMs int `json:"query_timeout_ms"` // Time to wait for a query reply

	Channels []ChannelConfig `json:"channels"`
	MQTT     MQTTConfig      `json:"mqtt"`
}

// ChannelConfig names a pulse channel and binds it to a pin
type ChannelConfig struct {
	Name     string `json:"name"`
	Channel  uint32 `json:"channel"`
	Port     uint32 `json:"port"`
	Pin      uint32 `json:"pin"`
	Inverted bool   `json:"inverted"`
}

// MQTTConfig configures the MQTT bridge
type MQTTConfig struct {
	URL              string `json:"url"` // e.g. mqtt://localhost:1883/pulsgen/
	StatusIntervalMs int    `json:"status_interval_ms"`
}

// LoadConfig parses a JSON configuration and returns a validated Config
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfigFile reads and parses a JSON configuration file
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *Config) {
	if config.Device == "" {
		config.Device = "/dev/ttyACM0"
	}
	if config.Baud == 0 {
		config.Baud = 250000
	}
	if config.ReadTimeoutMs == 0 {
		config.ReadTimeoutMs = 100
	}
	if config.QueryTimeoutMs == 0 {
		config.QueryTimeoutMs = 1000
	}
	if config.KeepAliveMs == 0 && config.WatchdogMs > 0 {
		config.KeepAliveMs = config.WatchdogMs / 4
	}
	if config.MQTT.StatusIntervalMs == 0 {
		config.MQTT.StatusIntervalMs = 500
	}
}

// Validate checks channel bindings and timing parameters
func (c *Config) Validate() error {
	if c.WatchdogMs < 0 || c.KeepAliveMs < 0 {
		return fmt.Errorf("negative watchdog or keepalive period")
	}
	if c.WatchdogMs > 0 && c.KeepAliveMs >= c.WatchdogMs {
		return fmt.Errorf("keepalive period %dms must be shorter than the watchdog timeout %dms",
			c.KeepAliveMs, c.WatchdogMs)
	}
	if time.Duration(c.WatchdogMs)*time.Millisecond > time.Duration(^uint32(0)) {
		return fmt.Errorf("watchdog timeout %dms does not fit the device", c.WatchdogMs)
	}

	names := make(map[string]bool)
	used := make(map[uint32]bool)
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel %d has no name", ch.Channel)
		}
		if names[ch.Name] {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		if ch.Channel >= core.ChannelCount {
			return fmt.Errorf("channel %q: index %d out of range (max %d)", ch.Name, ch.Channel, core.ChannelCount-1)
		}
		if used[ch.Channel] {
			return fmt.Errorf("channel %q: index %d already bound", ch.Name, ch.Channel)
		}
		if ch.Port >= core.GPIOPortCount || ch.Pin >= core.GPIOPinsPerPort {
			return fmt.Errorf("channel %q: invalid pin %d.%d", ch.Name, ch.Port, ch.Pin)
		}
		names[ch.Name] = true
		used[ch.Channel] = true
	}
	return nil
}

// Lookup finds a channel by name
func (c *Config) Lookup(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// KeepAlive returns the ping period
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveMs) * time.Millisecond
}

// Watchdog returns the device watchdog timeout
func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.WatchdogMs) * time.Millisecond
}

// QueryTimeout returns the query reply timeout
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// StatusInterval returns the MQTT status publish period
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.MQTT.StatusIntervalMs) * time.Millisecond
}

// DefaultConfig returns a configuration for a two-axis step/dir setup on
// the first pins of port 0, with a 500ms watchdog
func DefaultConfig() *Config {
	config := &Config{
		WatchdogMs: 500,
		Channels: []ChannelConfig{
			{Name: "x", Channel: 0, Port: 0, Pin: 0},
			{Name: "y", Channel: 1, Port: 0, Pin: 2},
		},
	}
	applyDefaults(config)
	return config
}
