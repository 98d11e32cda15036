package events

import (
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/config"
)

// NewPublisherFromConfig picks RabbitMQ when RABBITMQ_URL is set, Kafka when
// KAFKA_BROKERS is set, and a no-op publisher otherwise. A broker that cannot
// be reached at startup disables publishing rather than failing the service.
func NewPublisherFromConfig(cfg *config.Config) Publisher {
	if cfg.RabbitMQURL != "" {
		p, err := NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue, cfg.RabbitMQQueuePrefix, nil)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable, event publishing disabled")
			return NopPublisher{}
		}
		return p
	}

	if len(cfg.KafkaBrokers) > 0 {
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Kafka event publishing enabled")
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	log.Info().Msg("No event broker configured. Event publishing disabled.")
	return NopPublisher{}
}
