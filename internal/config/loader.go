package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/topologyd")
	}

	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix("TOPOLOGYD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 7070)
	v.SetDefault("server.grpc_port", 7071)

	// Node defaults
	v.SetDefault("node.id", 1)
	v.SetDefault("node.liveness_window", "30s")

	// Etcd defaults
	v.SetDefault("etcd.endpoints", []string{"http://localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/topology")

	// Events defaults
	v.SetDefault("events.type", "nats")
	v.SetDefault("events.url", "nats://localhost:4222")

	// Fetch defaults
	v.SetDefault("fetch.timeout", "2s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.max_elapsed", "30s")

	// Sync defaults
	v.SetDefault("sync.retry_interval", "1s")
	v.SetDefault("sync.max_interval", "30s")

	// Auth defaults
	v.SetDefault("auth.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 7070,
			GRPCPort: 7071,
		},
		Node: NodeConfig{
			ID:             1,
			LivenessWindow: 30 * time.Second,
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/topology",
		},
		Events: EventsConfig{
			Type: "nats",
			URL:  "nats://localhost:4222",
		},
		Fetch: FetchConfig{
			Timeout:     2 * time.Second,
			MaxAttempts: 3,
			MaxElapsed:  30 * time.Second,
		},
		Sync: SyncConfig{
			RetryInterval: 1 * time.Second,
			MaxInterval:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
