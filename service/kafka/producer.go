package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
)

// Producer 同步生产者，固定写一个 topic
type Producer struct {
	client sarama.Client
	sp     sarama.SyncProducer
	topic  string
}

// NewProducer 连接集群、确保 topic 存在并创建同步生产者
func NewProducer(c Config) (*Producer, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka topic missing")
	}
	c.setDefaults()

	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka admin: %w", err)
	}
	if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
		_ = client.Close()
		return nil, err
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{client: client, sp: sp, topic: c.Topic}, nil
}

// NewProducerWith 使用现成的 SyncProducer（测试里用 mocks）
func NewProducerWith(sp sarama.SyncProducer, topic string) *Producer {
	return &Producer{sp: sp, topic: topic}
}

func (p *Producer) Topic() string { return p.topic }

// Send 同步发送，key 决定分区
func (p *Producer) Send(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.sp.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send topic=%s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	err := p.sp.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
