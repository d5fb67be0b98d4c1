package dispatch

import (
	"context"
	"fmt"

	"tokenwatch/internal/config"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// Sink 通知输出通道
type Sink interface {
	Send(ctx context.Context, payload *models.AlertPayload) error
	Close() error
}

// NewSinks 按配置创建输出通道，多个时组合为MultiSink
func NewSinks(cfg *config.OutputConfig, logger *logrus.Logger) (Sink, error) {
	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		case "file":
			s, err := NewFileSink(cfg.Directory, logger)
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, s)
		case "kafka":
			if cfg.Kafka == nil {
				closeAll()
				return nil, fmt.Errorf("kafka输出需要配置brokers")
			}
			s, err := NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, s)
		default:
			closeAll()
			return nil, fmt.Errorf("不支持的输出类型: %s", name)
		}
	}

	if len(sinks) == 0 {
		logger.Warn("未配置输出通道，使用日志输出")
		return NewLogSink(logger), nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

// LogSink 将通知写入日志
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink 创建日志输出
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send 实现Sink
func (s *LogSink) Send(ctx context.Context, payload *models.AlertPayload) error {
	s.logger.WithFields(logrus.Fields{
		"destination": payload.Destination,
		"kind":        payload.Kind,
		"tx_hash":     payload.TxHash,
		"links":       len(payload.Links),
	}).Infof("通知:\n%s", payload.Text)
	return nil
}

// Close 实现Sink
func (s *LogSink) Close() error { return nil }

// MultiSink 依次写入多个通道，任一失败返回第一个错误
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink 组合多个输出通道
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Send 实现Sink
func (m *MultiSink) Send(ctx context.Context, payload *models.AlertPayload) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Send(ctx, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close 实现Sink
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
