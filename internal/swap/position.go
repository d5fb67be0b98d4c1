package swap

import (
	"context"
	"strings"
	"sync"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/metrics"
	"tokenwatch/internal/retry"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// PositionResolver 解析被跟踪代币在交易对中的位置，进程内只查询一次
type PositionResolver struct {
	client chain.Client
	pair   string
	token  string
	logger *logrus.Logger
	retry  *retry.Retrier

	mu       sync.Mutex
	resolved bool
	isToken0 bool
}

// NewPositionResolver 创建位置解析器
func NewPositionResolver(client chain.Client, pair, token string, logger *logrus.Logger) *PositionResolver {
	return &PositionResolver{
		client: client,
		pair:   pair,
		token:  strings.ToLower(token),
		logger: logger,
	}
}

// WithRetrier token0查询遇到瞬时错误时重试
func (r *PositionResolver) WithRetrier(rt *retry.Retrier) *PositionResolver {
	r.retry = rt
	return r
}

func (r *PositionResolver) token0(ctx context.Context) ([]byte, error) {
	if r.retry == nil {
		return r.client.Call(ctx, r.pair, chain.Token0Selector)
	}
	var result []byte
	err := r.retry.Do(ctx, "token0", func(ctx context.Context) error {
		var err error
		result, err = r.client.Call(ctx, r.pair, chain.Token0Selector)
		return err
	})
	return result, err
}

// IsToken0 返回被跟踪代币是否为token0
// 查询失败时默认token0并记录警告，结果同样缓存
func (r *PositionResolver) IsToken0(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return r.isToken0
	}

	r.isToken0 = true
	result, err := r.token0(ctx)
	if err == nil {
		var token0 string
		token0, err = chain.DecodeAddressWord(result)
		if err == nil {
			r.isToken0 = token0 == r.token
		}
	}
	if err != nil {
		r.logger.WithError(err).WithField("pair", r.pair).Warn("查询token0失败，默认按token0处理")
	} else {
		position := "token1"
		if r.isToken0 {
			position = "token0"
		}
		r.logger.WithField("position", position).Info("代币位置已确定")
	}
	r.resolved = true
	return r.isToken0
}

// Classifier 将Swap日志转换为买卖记录
type Classifier struct {
	resolver  *PositionResolver
	validator *validation.Validator
	logger    *logrus.Logger
}

// NewClassifier 创建分类器
func NewClassifier(resolver *PositionResolver, logger *logrus.Logger) *Classifier {
	return &Classifier{resolver: resolver, logger: logger}
}

// WithValidator 分类前先校验日志结构
func (c *Classifier) WithValidator(v *validation.Validator) *Classifier {
	c.validator = v
	return c
}

// ClassifyLog 解码并分类单条Swap日志
// 返回nil,nil表示无操作的Swap
func (c *Classifier) ClassifyLog(ctx context.Context, log models.LogRecord, snapshot *models.PriceSnapshot) (*models.ClassifiedSwap, error) {
	if c.validator != nil {
		if res := c.validator.ValidateLog(log); !res.Valid && len(res.Errors) > 0 {
			metrics.DecodeFailures.Inc()
			return nil, res.Errors[0]
		}
	}

	amounts, err := DecodeSwap(log)
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, err
	}

	direction, magnitude, ok := Classify(amounts, c.resolver.IsToken0(ctx))
	if !ok {
		c.logger.WithField("tx_hash", log.TxHash).Debug("Swap净流向为零，忽略")
		return nil, nil
	}

	metrics.SwapsClassified.WithLabelValues(string(direction)).Inc()
	return Build(amounts, direction, magnitude, snapshot), nil
}

// Prepare 启动时解析代币位置
func (c *Classifier) Prepare(ctx context.Context) bool {
	return c.resolver.IsToken0(ctx)
}
