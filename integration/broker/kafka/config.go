package kafka

import "time"

// Config holds Kafka producer settings.
type Config struct {
	Brokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	TopicPrefix  string        `env:"KAFKA_TOPIC_PREFIX"`
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}
