package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Node    NodeConfig    `mapstructure:"node"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Events  EventsConfig  `mapstructure:"events"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // Admin HTTP server port
	GRPCPort int    `mapstructure:"grpc_port"` // gRPC messaging port
	// GRPCHost is the advertise address for service discovery.
	// Used as fallback when Host is 0.0.0.0 and auto IP detection fails.
	GRPCHost string `mapstructure:"grpc_host"`
}

// NodeConfig identifies this node within the cluster
type NodeConfig struct {
	ID int32 `mapstructure:"id"` // Cluster-wide node identifier, must be positive
	// LivenessWindow is how recently a node must have heartbeated to be
	// considered alive when deciding whether a removed node is truly gone.
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	// Prefix scopes every key this service writes (default: /topology)
	Prefix string `mapstructure:"prefix"`
}

// EventsConfig represents event bus configuration
type EventsConfig struct {
	Type     string `mapstructure:"type"`     // Bus type: nats (default), redis, kafka, memory
	URL      string `mapstructure:"url"`      // Bus server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username string `mapstructure:"username"` // Optional authentication
	Password string `mapstructure:"password"` // Optional authentication

	// Redis-specific options
	RedisDB       int    `mapstructure:"redis_db"`       // Redis database number (default: 0)
	RedisStream   string `mapstructure:"redis_stream"`   // Redis stream prefix (default: "topology")
	RedisGroup    string `mapstructure:"redis_group"`    // Redis consumer group (default: "topology-group")
	RedisConsumer string `mapstructure:"redis_consumer"` // Redis consumer name (default: hostname)

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`  // Kafka broker addresses
	KafkaGroupID string   `mapstructure:"kafka_group_id"` // Kafka consumer group ID
}

// FetchConfig governs remote topology fetches
type FetchConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`      // Per-attempt request timeout
	MaxAttempts int           `mapstructure:"max_attempts"` // Attempts per peer before moving on
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`  // Total budget across all peers
}

// SyncConfig governs sync-complete notification delivery
type SyncConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"` // Base delay before renotifying a silent peer
	MaxInterval   time.Duration `mapstructure:"max_interval"`   // Cap on the backoff between renotifications
}

// AuthConfig protects the admin HTTP endpoints
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"api_keys"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node config: %w", err)
	}

	if err := c.Etcd.Validate(); err != nil {
		return fmt.Errorf("etcd config: %w", err)
	}

	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch config: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}

	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}

	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("http_port and grpc_port cannot be the same")
	}

	return nil
}

// Validate validates node configuration
func (c *NodeConfig) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("node.id must be positive, got %d", c.ID)
	}

	if c.LivenessWindow <= 0 {
		return fmt.Errorf("node.liveness_window must be positive")
	}

	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates fetch configuration
func (c *FetchConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1")
	}

	if c.MaxElapsed < c.Timeout {
		return fmt.Errorf("fetch.max_elapsed cannot be shorter than fetch.timeout")
	}

	return nil
}

// Validate validates sync configuration
func (c *SyncConfig) Validate() error {
	if c.RetryInterval <= 0 {
		return fmt.Errorf("sync.retry_interval must be positive")
	}

	if c.MaxInterval < c.RetryInterval {
		return fmt.Errorf("sync.max_interval cannot be shorter than sync.retry_interval")
	}

	return nil
}

// Validate validates auth configuration
func (c *AuthConfig) Validate() error {
	if c.Enabled && len(c.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys is required when auth is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
