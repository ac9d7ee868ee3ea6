// Package config provides configuration loading for the ha-creality-ws
// bridge. Configuration is loaded in order: YAML file → .env file → ENV vars
// → CLI flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var loadEnvOnce sync.Once

// loadDotEnv loads .env file if it exists (does not override existing env vars).
// It is called once before loading configuration.
func loadDotEnv() {
	loadEnvOnce.Do(func() {
		dotEnvSearchPaths := []string{".env", "configs/.env"}
		for _, f := range dotEnvSearchPaths {
			if _, err := os.Stat(f); err == nil {
				// Load .env but don't override existing environment variables
				_ = godotenv.Load(f)
				return
			}
		}
	})
}

// mustBindEnv binds an environment variable to a config key, panicking on error.
// viper.BindEnv only fails if the key is empty, which is a programming error.
func mustBindEnv(v *viper.Viper, key string, envVars ...string) {
	if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
		panic(fmt.Sprintf("failed to bind env var for key %s: %v", key, err))
	}
}

// Config holds all configuration for the bridge.
type Config struct {
	Printer PrinterConfig `mapstructure:"printer"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PrinterConfig holds the Creality printer connection settings.
type PrinterConfig struct {
	// Host is the printer's IP or hostname on the local network.
	Host string `mapstructure:"host"`
	// Port is the telemetry WebSocket port, 9999 on stock firmware.
	Port int `mapstructure:"port"`
}

// MQTTConfig holds the Home Assistant broker settings.
type MQTTConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	// DiscoveryPrefix is the HA MQTT discovery root topic.
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	// DeviceID identifies this printer in topics and entity unique_ids.
	DeviceID string `mapstructure:"device_id"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// setDefaults registers the default values on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("printer.host", "")
	v.SetDefault("printer.port", 9999)
	v.SetDefault("mqtt.broker_url", "mqtt://localhost:1883")
	v.SetDefault("mqtt.client_id", "ha-creality-ws")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.device_id", "creality_printer")
	v.SetDefault("logging.level", "INFO")
}

// bindEnvVars wires the environment variable overrides.
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	mustBindEnv(v, "printer.host", "PRINTER_HOST")
	mustBindEnv(v, "printer.port", "PRINTER_PORT")
	mustBindEnv(v, "mqtt.broker_url", "MQTT_BROKER_URL")
	mustBindEnv(v, "mqtt.client_id", "MQTT_CLIENT_ID")
	mustBindEnv(v, "mqtt.username", "MQTT_USERNAME")
	mustBindEnv(v, "mqtt.password", "MQTT_PASSWORD")
	mustBindEnv(v, "mqtt.discovery_prefix", "MQTT_DISCOVERY_PREFIX")
	mustBindEnv(v, "mqtt.device_id", "DEVICE_ID")
	mustBindEnv(v, "logging.level", "LOG_LEVEL")
}

// load reads the config file (when given) and unmarshals into a Config.
func load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	bindEnvVars(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Load loads configuration from YAML file, environment variables, and CLI flags.
// Priority: CLI flags > ENV vars > .env file > YAML file > defaults.
// The configFile parameter is the path to the YAML config file (can be empty).
func Load(configFile string) (*Config, error) {
	loadDotEnv()

	cfg, err := load(viper.New(), configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithViper loads configuration using a pre-configured viper instance.
// This allows CLI flags to be bound before loading.
func LoadWithViper(v *viper.Viper, configFile string) (*Config, error) {
	loadDotEnv()

	cfg, err := load(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForDisplay loads configuration without validation, for display purposes.
// This allows showing the effective configuration even if required fields are missing.
func LoadForDisplay(configFile string) (*Config, error) {
	loadDotEnv()
	return load(viper.New(), configFile)
}

// BindFlags binds CLI flag values into a viper instance.
// Call this after parsing flags but before LoadWithViper().
func BindFlags(v *viper.Viper, printerHost string, printerPort int, brokerURL string) {
	if printerHost != "" {
		v.Set("printer.host", printerHost)
	}
	if printerPort != 0 {
		v.Set("printer.port", printerPort)
	}
	if brokerURL != "" {
		v.Set("mqtt.broker_url", brokerURL)
	}
}

// MaskedConfig returns a copy of the config with sensitive data masked.
func (c *Config) MaskedConfig() Config {
	masked := *c
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = maskSecret(masked.MQTT.Password)
	}
	return masked
}

// maskSecret masks a secret, showing only the first and last character.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:1] + "****" + secret[len(secret)-1:]
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	if c.Printer.Host == "" {
		return fmt.Errorf("printer.host is required (set via PRINTER_HOST env var, --printer-host flag, or config file)")
	}
	if c.Printer.Port <= 0 || c.Printer.Port > 65535 {
		return fmt.Errorf("printer.port must be between 1 and 65535")
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}
	if c.MQTT.DeviceID == "" {
		return fmt.Errorf("mqtt.device_id must not be empty")
	}
	return nil
}
