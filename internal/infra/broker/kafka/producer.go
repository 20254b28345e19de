package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	appchat "campusfound/internal/app/chat"
)

// LifecycleTopic receives conversation lifecycle events, optionally prefixed.
const LifecycleTopic = "chat.lifecycle"

// Producer publishes chat lifecycle events to Kafka.
type Producer struct {
	sync        sarama.SyncProducer
	topicPrefix string
}

// NewProducer builds an idempotent sync producer.
func NewProducer(brokers []string, topicPrefix string, cfg *sarama.Config) (*Producer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{sync: sync, topicPrefix: topicPrefix}, nil
}

// PublishLifecycle emits one lifecycle event keyed by conversation id.
func (p *Producer) PublishLifecycle(ctx context.Context, ev appchat.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topicPrefix + LifecycleTopic,
		Key:   sarama.StringEncoder(ev.ConversationID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	}
	_, _, err = p.sync.SendMessage(msg)
	return err
}

// Close releases the underlying producer.
func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
