package mq

import (
	"fmt"

	"bankledger/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher 同步发送消息，发件箱投递依赖它的返回值决定是否标记已发送
type Publisher struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

// NewProducerConfig 可靠投递配置：等待所有副本确认，按 key 分区保证同一账户有序
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.Net.MaxOpenRequests = 1 // 幂等生产者要求
	return kafkaConfig
}

// NewPublisher 创建 Kafka 生产者
func NewPublisher(cfg *config.KafkaConfig, log *zap.Logger) (*Publisher, error) {
	kafkaConfig := NewProducerConfig()
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	log.Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Brokers))
	return NewPublisherWithProducer(producer, log), nil
}

// NewPublisherWithProducer 使用已有的生产者，测试中传入 mocks.SyncProducer
func NewPublisherWithProducer(producer sarama.SyncProducer, log *zap.Logger) *Publisher {
	return &Publisher{producer: producer, log: log}
}

// Publish 发送消息到 Kafka
func (p *Publisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	p.log.Debug("消息已发送",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭 Kafka 生产者
func (p *Publisher) Close() error {
	return p.producer.Close()
}
