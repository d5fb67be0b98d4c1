package dispatch

import (
	"context"
	"sort"

	"tokenwatch/internal/alerts"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/metrics"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// ChatStore 聊天设置存储
type ChatStore interface {
	All() (map[int64]models.ChatAlertSetting, error)
	Get(chatID int64) (models.ChatAlertSetting, error)
	Update(chatID int64, fn func(*models.ChatAlertSetting)) (models.ChatAlertSetting, error)
}

// Enricher 为买卖通知补充钱包信息
type Enricher interface {
	BuyerInfo(ctx context.Context, swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot) *BuyerInfo
}

// Result 一次分发的统计
type Result struct {
	Sent    int
	Skipped int
	Failed  int
}

// Dispatcher 通知分发器
type Dispatcher struct {
	sink      Sink
	chats     ChatStore
	formatter *Formatter
	enricher  Enricher
	handler   *errors.ErrorHandler
	logger    *logrus.Logger
}

// NewDispatcher 创建分发器，enricher和handler可为nil
func NewDispatcher(sink Sink, chats ChatStore, formatter *Formatter, enricher Enricher, handler *errors.ErrorHandler, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		chats:     chats,
		formatter: formatter,
		enricher:  enricher,
		handler:   handler,
		logger:    logger,
	}
}

func enabledFor(setting models.ChatAlertSetting, direction models.SwapDirection) bool {
	if direction == models.SwapSell {
		return setting.SellAlertsEnabled
	}
	return setting.BuyAlertsEnabled
}

// DispatchSwap 将买卖通知发往所有开启且满足阈值的聊天
// 无行情（USD为0）时不分发
func (d *Dispatcher) DispatchSwap(ctx context.Context, swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot) (Result, error) {
	var res Result
	if snapshot == nil || swap.USDAmount.IsZero() {
		d.logger.WithField("tx_hash", swap.TxHash).Debug("无行情数据，跳过分发")
		return res, nil
	}

	all, err := d.chats.All()
	if err != nil {
		return res, err
	}

	usd, _ := swap.USDAmount.Float64()
	var targets []int64
	for chatID, setting := range all {
		if !enabledFor(setting, swap.Direction) {
			continue
		}
		if usd < setting.MinUSD {
			res.Skipped++
			continue
		}
		targets = append(targets, chatID)
	}
	if len(targets) == 0 {
		return res, nil
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	var info *BuyerInfo
	if d.enricher != nil {
		info = d.enricher.BuyerInfo(ctx, swap, snapshot)
	}
	payload := d.formatter.Swap(swap, snapshot, info)

	for _, chatID := range targets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		msg := *payload
		msg.Destination = chatID
		if d.send(ctx, &msg) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"tx_hash":   swap.TxHash,
		"direction": swap.Direction,
		"usd":       swap.USDAmount.StringFixed(2),
		"sent":      res.Sent,
		"failed":    res.Failed,
	}).Info("买卖通知已分发")
	return res, nil
}

// DispatchPriceAlerts 价格提醒只发给所有者，不检查阈值
func (d *Dispatcher) DispatchPriceAlerts(ctx context.Context, triggered []alerts.TriggeredAlert) Result {
	var res Result
	for _, t := range triggered {
		if ctx.Err() != nil {
			break
		}
		if d.send(ctx, d.formatter.PriceAlert(t)) {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, payload *models.AlertPayload) bool {
	if err := d.sink.Send(ctx, payload); err != nil {
		metrics.AlertsFailed.WithLabelValues(string(payload.Kind)).Inc()
		werr := errors.NewDeliveryError(payload.Destination, err).
			WithComponent("dispatch").
			WithContext("kind", string(payload.Kind))
		if d.handler != nil {
			d.handler.Handle(werr, "dispatch")
		} else {
			d.logger.WithError(werr).Warn("通知发送失败")
		}
		return false
	}
	metrics.AlertsDispatched.WithLabelValues(string(payload.Kind)).Inc()
	return true
}

// Settings 读取聊天设置
func (d *Dispatcher) Settings(chatID int64) (models.ChatAlertSetting, error) {
	return d.chats.Get(chatID)
}

// SetBuyAlerts 开关买入通知
func (d *Dispatcher) SetBuyAlerts(chatID int64, enabled bool) (models.ChatAlertSetting, error) {
	return d.chats.Update(chatID, func(s *models.ChatAlertSetting) {
		s.BuyAlertsEnabled = enabled
	})
}

// SetSellAlerts 开关卖出通知
func (d *Dispatcher) SetSellAlerts(chatID int64, enabled bool) (models.ChatAlertSetting, error) {
	return d.chats.Update(chatID, func(s *models.ChatAlertSetting) {
		s.SellAlertsEnabled = enabled
	})
}

// SetThreshold 设置最小USD阈值，负数按0处理
func (d *Dispatcher) SetThreshold(chatID int64, minUSD float64) (models.ChatAlertSetting, error) {
	if minUSD < 0 {
		minUSD = 0
	}
	return d.chats.Update(chatID, func(s *models.ChatAlertSetting) {
		s.MinUSD = minUSD
	})
}
