package kafka

import (
	"github.com/segmentio/kafka-go"
)

// NewWriter builds the producer the outbox relay dispatches order events
// through. RequireAll keeps the at-least-once guarantee the outbox provides.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}
