package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// defaultFileName is the config file looked up in the user config directory.
const defaultFileName = "mqttbridge.yaml"

// Config is the root configuration structure for mqttbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
	Actions   []ActionConfig  `yaml:"actions"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// The flat host/username/password/instance_name keys match the
// configuration files written for earlier releases.
type MQTTConfig struct {
	Host         string              `yaml:"host"`
	Port         int                 `yaml:"port"`
	TLS          bool                `yaml:"tls"`
	Username     string              `yaml:"username"`
	Password     string              `yaml:"password"`
	ClientID     string              `yaml:"client_id"`
	InstanceName string              `yaml:"instance_name"`
	QoS          int                 `yaml:"qos"`
	KeepAlive    int                 `yaml:"keepalive"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings. Delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay    int `yaml:"initial_delay"`
	MaxDelay        int `yaml:"max_delay"`
	StartupAttempts int `yaml:"startup_attempts"`
	StableAfter     int `yaml:"stable_after"`
}

// DiscoveryConfig controls Home Assistant MQTT discovery.
type DiscoveryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Prefix            string `yaml:"prefix"`
	RetractOnShutdown bool   `yaml:"retract_on_shutdown"`
}

// ExecutionConfig controls how commands are run.
type ExecutionConfig struct {
	// GracePeriod is how long shutdown waits for running commands (seconds).
	GracePeriod int `yaml:"grace_period"`

	// OutputTail is how many trailing bytes of stdout/stderr are kept.
	OutputTail int `yaml:"output_tail"`

	// PublishResults enables the per-action result topic.
	PublishResults bool `yaml:"publish_results"`

	// Env are extra KEY=VALUE variables added to the inherited environment.
	Env []string `yaml:"env"`

	// WorkDir is the working directory for commands; empty inherits ours.
	WorkDir string `yaml:"workdir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ActionConfig is one configured action as written in the file.
type ActionConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Icon    string `yaml:"icon,omitempty"`
}

// hostname is swapped in tests.
var hostname = os.Hostname

// DefaultPath returns the configuration file path used when none is given.
// MQTTBRIDGE_CONFIG wins over the XDG config directory.
func DefaultPath() string {
	if path := os.Getenv("MQTTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(xdg.ConfigHome, defaultFileName)
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Hostname fallback for an empty instance name
//
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
// For example: MQTTBRIDGE_MQTT_HOST, MQTTBRIDGE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.applyFallbacks(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port:      1883,
			QoS:       1,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay:    1,
				MaxDelay:        60,
				StartupAttempts: 5,
				StableAfter:     60,
			},
		},
		Discovery: DiscoveryConfig{
			Enabled:           true,
			Prefix:            "homeassistant",
			RetractOnShutdown: true,
		},
		Execution: ExecutionConfig{
			GracePeriod: 10,
			OutputTail:  4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQTTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MQTTBRIDGE_INSTANCE_NAME"); v != "" {
		cfg.MQTT.InstanceName = v
	}
	if v := os.Getenv("MQTTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyFallbacks fills values derived from the running host.
func (c *Config) applyFallbacks() error {
	c.MQTT.InstanceName = strings.TrimSpace(c.MQTT.InstanceName)
	if c.MQTT.InstanceName == "" {
		name, err := hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname for instance_name: %w", err)
		}
		c.MQTT.InstanceName = name
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = fmt.Sprintf("mqttbridge-%d", os.Getpid())
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 1 {
		errs = append(errs, "mqtt.keepalive must be at least 1 second")
	}
	if c.MQTT.InstanceName == "" {
		errs = append(errs, "mqtt.instance_name is required")
	} else if strings.ContainsAny(c.MQTT.InstanceName, "/+#") {
		errs = append(errs, "mqtt.instance_name must not contain '/', '+' or '#'")
	}

	// Reconnect validation
	r := c.MQTT.Reconnect
	if r.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be below initial_delay")
	}
	if r.StartupAttempts < 1 {
		errs = append(errs, "mqtt.reconnect.startup_attempts must be at least 1")
	}
	if r.StableAfter < 0 {
		errs = append(errs, "mqtt.reconnect.stable_after must not be negative")
	}

	// Discovery validation
	if c.Discovery.Enabled && strings.Trim(c.Discovery.Prefix, "/ ") == "" {
		errs = append(errs, "discovery.prefix is required when discovery is enabled")
	}

	// Execution validation
	if c.Execution.GracePeriod < 0 {
		errs = append(errs, "execution.grace_period must not be negative")
	}
	if c.Execution.OutputTail < 1 {
		errs = append(errs, "execution.output_tail must be at least 1 byte")
	}
	for i, kv := range c.Execution.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("execution.env[%d] must be KEY=VALUE", i))
		}
	}
	if c.Execution.WorkDir != "" {
		if info, err := os.Stat(c.Execution.WorkDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Sprintf("execution.workdir %q is not a directory", c.Execution.WorkDir))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// InitialDelayDuration returns the first reconnect delay as a Duration.
func (r MQTTReconnectConfig) InitialDelayDuration() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// MaxDelayDuration returns the reconnect delay cap as a Duration.
func (r MQTTReconnectConfig) MaxDelayDuration() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}

// StableAfterDuration returns how long a connection must last before the
// reconnect backoff starts over.
func (r MQTTReconnectConfig) StableAfterDuration() time.Duration {
	return time.Duration(r.StableAfter) * time.Second
}

// GetGracePeriod returns the shutdown grace period as a Duration.
func (c *Config) GetGracePeriod() time.Duration {
	return time.Duration(c.Execution.GracePeriod) * time.Second
}

// KeepAliveDuration returns the MQTT keepalive interval as a Duration.
func (m MQTTConfig) KeepAliveDuration() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}
