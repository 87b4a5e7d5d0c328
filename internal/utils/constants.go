package utils

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// HTTP Handler Timeouts
const (
	// DefaultRequestTimeout is the default timeout for HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// ValidationTimeout is the timeout for input validation operations
	ValidationTimeout = 5 * time.Second
)

// gRPC Timeouts
const (
	// GRPCDialTimeout is the timeout for establishing gRPC connections
	GRPCDialTimeout = 10 * time.Second

	// GRPCRequestTimeout is the default timeout for gRPC requests
	GRPCRequestTimeout = 5 * time.Second

	// GRPCHealthCheckInterval is the interval between health checks for gRPC connections
	GRPCHealthCheckInterval = 30 * time.Second
)

// =============================================================================
// Retry and Backoff Constants
// =============================================================================

const (
	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default backoff duration between retries
	DefaultRetryBackoff = 100 * time.Millisecond

	// MaxRetryBackoff is the maximum backoff duration
	MaxRetryBackoff = 5 * time.Second
)

// =============================================================================
// Bus Type Constants
// =============================================================================
// BusType represents the type of event bus
type BusType string

const (
	// BusTypeNATS represents NATS JetStream bus (default)
	BusTypeNATS BusType = "nats"

	// BusTypeRedis represents Redis Streams bus
	BusTypeRedis BusType = "redis"

	// BusTypeKafka represents Apache Kafka bus
	BusTypeKafka BusType = "kafka"

	// BusTypeMemory represents in-memory bus (for testing)
	BusTypeMemory BusType = "memory"
)
