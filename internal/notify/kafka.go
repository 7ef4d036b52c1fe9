package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter *kafka.Writer 中投递需要的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDeliverer 以 followup id 为 key 写入 topic，同一跟进的创建/解决事件落在同一分区
type KafkaDeliverer struct {
	writer messageWriter
}

// NewKafkaDeliverer brokers 或 topic 为空时返回 nil
func NewKafkaDeliverer(brokers []string, topic string) *KafkaDeliverer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaDeliverer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *KafkaDeliverer) Name() string { return "kafka" }

func (k *KafkaDeliverer) Deliver(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.FollowupID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	})
}

func (k *KafkaDeliverer) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
