package errors

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器，负责统计和按严重级别记录日志
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误回调
	callbacks []ErrorCallback

	// 每小时错误数告警阈值
	maxErrorsPerHour int

	now func() time.Time
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *WatchError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:           logger,
		stats:            NewErrorStats(),
		callbacks:        make([]ErrorCallback, 0),
		maxErrorsPerHour: 120,
		now:              time.Now,
	}
}

// Handle 记录并上报错误，返回规范化后的WatchError
func (eh *ErrorHandler) Handle(err error, component string) *WatchError {
	if err == nil {
		return nil
	}

	we, ok := As(err)
	if !ok {
		we = WrapError(err, ErrorTypeTransientNetwork, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}
	if we.Component == "" {
		we.Component = component
	}

	eh.mu.Lock()
	eh.stats.RecordError(we)
	rate := eh.stats.GetErrorRate(time.Hour, eh.now())
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(we)

	if eh.maxErrorsPerHour > 0 && rate > float64(eh.maxErrorsPerHour) {
		eh.logger.Warnf("每小时错误数超过阈值: %.2f > %d", rate, eh.maxErrorsPerHour)
	}

	for _, cb := range callbacks {
		eh.runCallback(cb, we)
	}

	return we
}

func (eh *ErrorHandler) runCallback(cb ErrorCallback, err *WatchError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *WatchError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if len(err.Context) > 0 {
		entry = entry.WithField("context", err.Context)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		// 运行期间的错误不退出进程，严重级别只影响日志级别
		entry.Error(err.Error())
	}
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetMaxErrorsPerHour 设置阈值，0表示不告警
func (eh *ErrorHandler) SetMaxErrorsPerHour(n int) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.maxErrorsPerHour = n
}

// GetStats 获取错误统计信息的快照
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Clone()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
