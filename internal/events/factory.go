package events

import (
	"fmt"
	"strings"

	"github.com/iamqiss/Pixelle-sub004/internal/config"
	"github.com/iamqiss/Pixelle-sub004/internal/utils"
)

// New creates a new Bus instance based on configuration
// Default is NATS if type is not specified
func New(cfg config.EventsConfig) (Bus, error) {
	busType := utils.BusType(strings.ToLower(cfg.Type))

	// Default to NATS if not specified
	if busType == "" {
		busType = utils.BusTypeNATS
	}

	switch busType {
	case utils.BusTypeNATS:
		return newNATSBus(cfg.URL)

	case utils.BusTypeRedis:
		return newRedisBus(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
		})

	case utils.BusTypeKafka:
		return newKafkaBus(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		})

	case utils.BusTypeMemory:
		return newMemoryBus(), nil

	default:
		return nil, fmt.Errorf("unsupported bus type: %s (supported: nats, redis, kafka, memory)", busType)
	}
}
