package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 外部调用错误（超时、非2xx、JSON格式错误），调用方替换为安全默认值
	ErrorTypeTransientNetwork ErrorType = iota

	// 日志/记录解码错误，跳过该条记录
	ErrorTypeDecode

	// 配置错误，仅在启动时致命
	ErrorTypeConfiguration

	// 本地存储错误
	ErrorTypeStorage

	// 通知投递错误
	ErrorTypeDelivery

	// 用户输入校验错误
	ErrorTypeValidation
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// WatchError 自定义错误类型
type WatchError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *WatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WatchError) Unwrap() error {
	return e.Cause
}

// IsRetryable 下一次tick是否值得重试
func (e *WatchError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *WatchError) WithContext(key string, value interface{}) *WatchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置组件名
func (e *WatchError) WithComponent(component string) *WatchError {
	e.Component = component
	return e
}

// NewWatchError 创建新的错误
func NewWatchError(errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	return &WatchError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	e := NewWatchError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// NewTransientNetworkError 外部调用失败
func NewTransientNetworkError(op string, err error) *WatchError {
	return WrapError(err, ErrorTypeTransientNetwork, SeverityMedium, "TRANSIENT_NETWORK", op+" 调用失败")
}

// NewDecodeError 记录解码失败
func NewDecodeError(what string, err error) *WatchError {
	return WrapError(err, ErrorTypeDecode, SeverityLow, "DECODE_FAILED", what+" 解码失败")
}

// NewConfigurationError 配置缺失或非法
func NewConfigurationError(msg string) *WatchError {
	return NewWatchError(ErrorTypeConfiguration, SeverityCritical, "CONFIG_INVALID", msg)
}

// NewStorageError 存储读写失败
func NewStorageError(op string, err error) *WatchError {
	return WrapError(err, ErrorTypeStorage, SeverityHigh, "STORAGE_FAILED", op+" 失败")
}

// NewDeliveryError 通知投递失败
func NewDeliveryError(destination int64, err error) *WatchError {
	return WrapError(err, ErrorTypeDelivery, SeverityMedium, "DELIVERY_FAILED",
		fmt.Sprintf("发送通知到 %d 失败", destination))
}

// NewValidationError 输入校验失败
func NewValidationError(code, message string) *WatchError {
	return NewWatchError(ErrorTypeValidation, SeverityLow, code, message)
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransientNetwork, ErrorTypeDelivery, ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// As 提取错误链中的WatchError
func As(err error) (*WatchError, bool) {
	var we *WatchError
	if stderrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsType 判断错误链中是否含有指定类型的WatchError
func IsType(err error, errorType ErrorType) bool {
	we, ok := As(err)
	return ok && we.Type == errorType
}

// IsTransient 是否为瞬时网络错误
func IsTransient(err error) bool {
	return IsType(err, ErrorTypeTransientNetwork)
}

// IsDecode 是否为解码错误
func IsDecode(err error) bool {
	return IsType(err, ErrorTypeDecode)
}

// IsValidation 是否为输入校验错误
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConfiguration 是否为配置错误
func IsConfiguration(err error) bool {
	return IsType(err, ErrorTypeConfiguration)
}

// ErrUnavailable 按需查询拿不到数据时返回，提示调用方稍后再试
var ErrUnavailable = stderrors.New("unavailable, try again")

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeTransientNetwork: "TransientNetwork",
	ErrorTypeDecode:           "Decode",
	ErrorTypeConfiguration:    "Configuration",
	ErrorTypeStorage:          "Storage",
	ErrorTypeDelivery:         "Delivery",
	ErrorTypeValidation:       "Validation",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// maxRecentErrors 保留的最近错误数量
const maxRecentErrors = 100

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	RecentErrors      []*WatchError  `json:"recent_errors"`
	LastError         *WatchError    `json:"last_error"`
	LastErrorTime     time.Time      `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WatchError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *WatchError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > maxRecentErrors {
		es.RecentErrors = es.RecentErrors[len(es.RecentErrors)-maxRecentErrors:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration, now time.Time) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := now.Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}

// Clone 返回统计信息的副本
func (es *ErrorStats) Clone() *ErrorStats {
	c := NewErrorStats()
	c.TotalErrors = es.TotalErrors
	for k, v := range es.ErrorsByType {
		c.ErrorsByType[k] = v
	}
	for k, v := range es.ErrorsBySeverity {
		c.ErrorsBySeverity[k] = v
	}
	for k, v := range es.ErrorsByComponent {
		c.ErrorsByComponent[k] = v
	}
	c.RecentErrors = append(c.RecentErrors, es.RecentErrors...)
	c.LastError = es.LastError
	c.LastErrorTime = es.LastErrorTime
	return c
}
