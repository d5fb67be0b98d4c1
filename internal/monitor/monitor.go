package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tokenwatch/internal/alerts"
	"tokenwatch/internal/chain"
	"tokenwatch/internal/dispatch"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/metrics"
	"tokenwatch/internal/scanner"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTickInterval 固定轮询间隔
	DefaultTickInterval = 5 * time.Second
	// DefaultTailWindow 每次回看的区块数
	DefaultTailWindow = 30
	// LastTailHeightKey 最近一次尾部扫描高度在meta中的key
	LastTailHeightKey = "last_tail_height"
)

// PriceFeed 行情快照来源
type PriceFeed interface {
	Snapshot(ctx context.Context) (*models.PriceSnapshot, error)
}

// AlertEvaluator 价格提醒评估
type AlertEvaluator interface {
	Evaluate(ctx context.Context, snapshot *models.PriceSnapshot, now time.Time) ([]alerts.TriggeredAlert, error)
}

// TailScanner 实时尾部扫描
type TailScanner interface {
	Tail(ctx context.Context, req scanner.TailRequest) (*scanner.TailResult, error)
}

// SwapClassifier Swap日志分类
type SwapClassifier interface {
	Prepare(ctx context.Context) bool
	ClassifyLog(ctx context.Context, log models.LogRecord, snapshot *models.PriceSnapshot) (*models.ClassifiedSwap, error)
}

// Dispatcher 通知分发
type Dispatcher interface {
	DispatchSwap(ctx context.Context, swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot) (dispatch.Result, error)
	DispatchPriceAlerts(ctx context.Context, triggered []alerts.TriggeredAlert) dispatch.Result
}

// MetaStore 保存运行进度
type MetaStore interface {
	GetUint64(key string) (uint64, bool, error)
	PutUint64(key string, value uint64) error
}

// Config 监控循环参数
type Config struct {
	Pair         string
	TickInterval time.Duration
	TailWindow   uint64
	SeenCapacity int
}

// Deps 监控循环依赖
type Deps struct {
	Feed       PriceFeed
	Alerts     AlertEvaluator
	Tail       TailScanner
	Classifier SwapClassifier
	Dispatcher Dispatcher
	Meta       MetaStore
	Handler    *errors.ErrorHandler
}

// Status 运行状态
type Status struct {
	Running        bool      `json:"running"`
	Ticks          uint64    `json:"ticks"`
	LastTickAt     time.Time `json:"last_tick_at"`
	LastTickError  string    `json:"last_tick_error,omitempty"`
	LastTailHeight uint64    `json:"last_tail_height"`
	SeenSize       int       `json:"seen_size"`
}

// TickReport 单次tick的结果
type TickReport struct {
	PriceAlerts int
	SwapLogs    int
	Duplicates  int
	Dispatched  int
}

// Monitor 定时驱动价格提醒和实时Swap监听
type Monitor struct {
	cfg    Config
	deps   Deps
	seen   *SeenSet
	logger *logrus.Logger
	now    func() time.Time

	// tickMu 保证tick串行
	tickMu sync.Mutex

	mu     sync.RWMutex
	status Status
}

// New 创建监控循环
func New(cfg Config, deps Deps, logger *logrus.Logger) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.TailWindow == 0 {
		cfg.TailWindow = DefaultTailWindow
	}
	if deps.Handler == nil {
		deps.Handler = errors.NewErrorHandler(logger)
	}
	return &Monitor{
		cfg:    cfg,
		deps:   deps,
		seen:   NewSeenSet(cfg.SeenCapacity),
		logger: logger,
		now:    time.Now,
	}
}

// Seen 去重集合
func (m *Monitor) Seen() *SeenSet {
	return m.seen
}

// Status 返回运行状态副本
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.SeenSize = m.seen.Len()
	return s
}

// Run 立即执行一次tick，之后按固定间隔执行，ctx取消时返回
func (m *Monitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	if m.deps.Meta != nil {
		if h, ok, err := m.deps.Meta.GetUint64(LastTailHeightKey); err == nil && ok {
			m.logger.Infof("上次运行的尾部扫描高度: %d", h)
		}
	}
	m.deps.Classifier.Prepare(ctx)

	m.logger.WithFields(logrus.Fields{
		"interval": m.cfg.TickInterval,
		"window":   m.cfg.TailWindow,
		"pair":     m.cfg.Pair,
	}).Info("监控循环已启动")

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.runTick(ctx)
	for {
		select {
		case <-ticker.C:
			m.runTick(ctx)
		case <-ctx.Done():
			m.logger.Info("监控循环已停止")
			return ctx.Err()
		}
	}
}

// runTick 执行一次tick，错误和panic只记录不中断循环
func (m *Monitor) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := m.now()
	var tickErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				tickErr = fmt.Errorf("tick panic: %v", r)
				metrics.TickErrors.WithLabelValues("panic").Inc()
			}
		}()
		_, tickErr = m.Tick(ctx)
	}()

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(m.now().Sub(start).Seconds())

	m.mu.Lock()
	m.status.Ticks++
	m.status.LastTickAt = start
	m.status.LastTickError = ""
	if tickErr != nil {
		m.status.LastTickError = tickErr.Error()
	}
	m.mu.Unlock()

	if tickErr != nil && ctx.Err() == nil {
		m.deps.Handler.Handle(tickErr, "monitor")
	}
}

// Tick 先评估价格提醒，再扫描并分类尾部Swap，两阶段共用一份行情快照
func (m *Monitor) Tick(ctx context.Context) (*TickReport, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	report := &TickReport{}
	now := m.now()

	snapshot, err := m.deps.Feed.Snapshot(ctx)
	if err != nil {
		metrics.TickErrors.WithLabelValues("price").Inc()
		m.deps.Handler.Handle(err, "pricefeed")
		snapshot = nil
	}

	triggered, err := m.deps.Alerts.Evaluate(ctx, snapshot, now)
	if err != nil {
		metrics.TickErrors.WithLabelValues("alerts").Inc()
		m.deps.Handler.Handle(err, "alerts")
	} else if len(triggered) > 0 {
		report.PriceAlerts = len(triggered)
		m.deps.Dispatcher.DispatchPriceAlerts(ctx, triggered)
	}

	tail, err := m.deps.Tail.Tail(ctx, scanner.TailRequest{
		Address: m.cfg.Pair,
		Topics:  [][]string{{chain.SwapTopic}},
		Window:  m.cfg.TailWindow,
	})
	if err != nil {
		metrics.TickErrors.WithLabelValues("tail").Inc()
		return report, fmt.Errorf("尾部扫描失败: %w", err)
	}

	metrics.TailHeight.Set(float64(tail.To))
	m.mu.Lock()
	m.status.LastTailHeight = tail.To
	m.mu.Unlock()
	if m.deps.Meta != nil {
		if err := m.deps.Meta.PutUint64(LastTailHeightKey, tail.To); err != nil {
			m.logger.WithError(err).Warn("保存尾部扫描高度失败")
		}
	}

	report.SwapLogs = len(tail.Logs)
	for _, log := range tail.Logs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		tx := strings.ToLower(log.TxHash)
		if !m.seen.MarkIfNew(tx) {
			report.Duplicates++
			continue
		}

		swap, err := m.deps.Classifier.ClassifyLog(ctx, log, snapshot)
		if err != nil {
			m.deps.Handler.Handle(err, "swap")
			continue
		}
		if swap == nil {
			continue
		}

		res, err := m.deps.Dispatcher.DispatchSwap(ctx, swap, snapshot)
		if err != nil {
			m.deps.Handler.Handle(err, "dispatch")
			continue
		}
		report.Dispatched += res.Sent
	}
	return report, nil
}

func (m *Monitor) setRunning(running bool) {
	m.mu.Lock()
	m.status.Running = running
	m.mu.Unlock()
}
