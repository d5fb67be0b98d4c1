package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tokenwatch/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// defaultTopics 通知类型到topic的默认映射
var defaultTopics = map[models.PayloadKind]string{
	models.PayloadBuy:        "tokenwatch_buy_alerts",
	models.PayloadSell:       "tokenwatch_sell_alerts",
	models.PayloadPriceAlert: "tokenwatch_price_alerts",
}

// KafkaSink 同步写入Kafka，按通知类型分topic，目标ID作为消息key
type KafkaSink struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.SyncProducer
}

// NewKafkaSink 创建Kafka输出
func NewKafkaSink(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaSink, error) {
	logger.Infof("初始化Kafka输出，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaSinkWithProducer(producer, topics, logger), nil
}

// NewKafkaSinkWithProducer 使用已有生产者创建Kafka输出
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaSink {
	if topics == nil {
		topics = make(map[string]string)
	}
	return &KafkaSink{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}
}

func (k *KafkaSink) topic(kind models.PayloadKind) string {
	if topic, ok := k.topics[string(kind)]; ok && topic != "" {
		return topic
	}
	if topic, ok := defaultTopics[kind]; ok {
		return topic
	}
	return "tokenwatch_alerts"
}

// Send 实现Sink
func (k *KafkaSink) Send(ctx context.Context, payload *models.AlertPayload) error {
	if payload == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic(payload.Kind),
		Key:   sarama.StringEncoder(strconv.FormatInt(payload.Destination, 10)),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("通知已写入Kafka topic '%s' (partition: %d, offset: %d)", msg.Topic, partition, offset)
	return nil
}

// Close 关闭Kafka连接
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
