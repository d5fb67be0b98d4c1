package alerts

import (
	"context"
	"sort"
	"time"

	"tokenwatch/internal/metrics"
	"tokenwatch/internal/store"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultCooldown 循环提醒两次触发的最小间隔
const DefaultCooldown = 300 * time.Second

// Store 提醒集合的原子读-改-写接口
type Store interface {
	Load() (store.AlertCollection, error)
	Update(fn func(store.AlertCollection) error) error
}

// TriggeredAlert 本轮触发的提醒
type TriggeredAlert struct {
	OwnerID int64
	// Alert 触发前的状态（方向为触发时的方向）
	Alert   models.PriceAlert
	Current float64
}

// Engine 价格提醒引擎
type Engine struct {
	store    Store
	cooldown time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewEngine 创建价格提醒引擎
func NewEngine(s Store, cooldown time.Duration, logger *logrus.Logger) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		store:    s,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// Add 添加提醒，目标价高于当前价为above，否则below；无行情时默认above
func (e *Engine) Add(owner int64, username string, target float64, recurring bool, snapshot *models.PriceSnapshot) (models.PriceAlert, error) {
	if err := validation.ValidatePrice(target); err != nil {
		return models.PriceAlert{}, err
	}

	direction := models.DirectionAbove
	if snapshot != nil && snapshot.PriceUSD > 0 && target <= snapshot.PriceUSD {
		direction = models.DirectionBelow
	}

	alert := models.PriceAlert{
		OwnerID:     owner,
		TargetPrice: target,
		Direction:   direction,
		Recurring:   recurring,
		Created:     e.now(),
	}

	err := e.store.Update(func(all store.AlertCollection) error {
		entry, ok := all[owner]
		if !ok {
			entry = &models.OwnerAlerts{}
			all[owner] = entry
		}
		if username != "" {
			entry.Username = username
		}
		entry.Alerts = append(entry.Alerts, alert)
		return nil
	})
	if err != nil {
		return models.PriceAlert{}, err
	}

	e.logger.WithFields(logrus.Fields{
		"owner":     owner,
		"target":    target,
		"direction": direction,
		"recurring": recurring,
	}).Info("添加价格提醒")
	return alert, nil
}

// List 返回订阅者当前的提醒列表
func (e *Engine) List(owner int64) ([]models.PriceAlert, error) {
	all, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	entry, ok := all[owner]
	if !ok {
		return []models.PriceAlert{}, nil
	}
	out := make([]models.PriceAlert, len(entry.Alerts))
	copy(out, entry.Alerts)
	return out, nil
}

// Remove 按当前存储顺序删除第index个提醒（从0开始），越界返回false
func (e *Engine) Remove(owner int64, index int) (bool, error) {
	removed := false
	err := e.store.Update(func(all store.AlertCollection) error {
		entry, ok := all[owner]
		if !ok || index < 0 || index >= len(entry.Alerts) {
			return nil
		}
		entry.Alerts = append(entry.Alerts[:index], entry.Alerts[index+1:]...)
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		e.logger.WithFields(logrus.Fields{"owner": owner, "index": index}).Info("删除价格提醒")
	}
	return removed, nil
}

// Evaluate 用同一份快照评估全部提醒，并整体重写集合
// 一次性提醒触发后删除；循环提醒在冷却期外触发，翻转方向并记录触发时间
func (e *Engine) Evaluate(ctx context.Context, snapshot *models.PriceSnapshot, now time.Time) ([]TriggeredAlert, error) {
	if snapshot == nil || snapshot.PriceUSD <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	price := snapshot.PriceUSD
	var triggered []TriggeredAlert

	err := e.store.Update(func(all store.AlertCollection) error {
		triggered = triggered[:0]
		owners := make([]int64, 0, len(all))
		for owner := range all {
			owners = append(owners, owner)
		}
		sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

		for _, owner := range owners {
			entry := all[owner]
			if entry == nil {
				continue
			}
			kept := make([]models.PriceAlert, 0, len(entry.Alerts))
			for _, alert := range entry.Alerts {
				if !e.shouldTrigger(&alert, price, now) {
					kept = append(kept, alert)
					continue
				}

				triggered = append(triggered, TriggeredAlert{OwnerID: owner, Alert: alert, Current: price})
				if alert.Recurring {
					stamp := now
					alert.LastTriggered = &stamp
					alert.Direction = alert.Direction.Flip()
					kept = append(kept, alert)
				}
			}
			entry.Alerts = kept
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(triggered) > 0 {
		metrics.PriceAlertsTriggered.Add(float64(len(triggered)))
		e.logger.WithFields(logrus.Fields{
			"count": len(triggered),
			"price": price,
		}).Info("价格提醒触发")
	}
	return triggered, nil
}

func (e *Engine) shouldTrigger(alert *models.PriceAlert, price float64, now time.Time) bool {
	if !alert.Crossed(price) {
		return false
	}
	if alert.Recurring && alert.LastTriggered != nil && now.Sub(*alert.LastTriggered) < e.cooldown {
		return false
	}
	return true
}
