// Package kafka relays outbox events to Kafka topics with segmentio/kafka-go.
//
// NewRelayHandler plugs a Publisher into the outbox delivery registry, so an
// event committed with a business write reaches Kafka once the delivery
// processor runs it:
//
//	pub, err := kafka.NewPublisher(cfg)
//	relay, err := kafka.NewRelayHandler("kafka.session_completed", "session.completed", pub)
//	registry := outbox.MustRegistry(relay)
//
// Topics default to TopicPrefix plus the event type; WithTopics overrides
// individual mappings. Messages are keyed by correlation id and carry
// event_id, event_type and correlation_id headers.
package kafka
