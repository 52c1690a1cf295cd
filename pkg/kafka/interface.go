// pkg/kafka/interface.go
//
// Package kafka defines the publishing contract used by the sinks and a
// Sarama backed implementation of it.
package kafka

import "context"

// Producer publishes messages to Kafka.
type Producer interface {
	// Publish delivers one message according to the RequiredAcks policy,
	// retrying with back-off.
	Publish(ctx context.Context, topic string, key, value []byte) error
	// Ping checks cluster reachability by refreshing metadata.
	Ping(ctx context.Context) error
	Close() error
}
