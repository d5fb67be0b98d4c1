package validation

import (
	"math"
	"regexp"
	"strings"

	"tokenwatch/internal/errors"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var (
	hashRegex = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	hexRegex  = regexp.MustCompile("^0x[0-9a-fA-F]*$")
)

// Validator 输入与链上记录校验器
type Validator struct {
	logger *logrus.Logger
	rules  map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*errors.WatchError `json:"errors,omitempty"`
	DataType string               `json:"data_type"`
}

// NewValidator 创建校验器
func NewValidator(logger *logrus.Logger) *Validator {
	v := &Validator{
		logger: logger,
		rules:  make(map[string]ValidationRule),
	}

	v.AddRule(&AddressValidationRule{})
	v.AddRule(&HashValidationRule{})
	v.AddRule(&LogValidationRule{})

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateLog 校验一条日志记录，结构不完整的记录应整条跳过
func (v *Validator) ValidateLog(log models.LogRecord) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "log"}

	for _, name := range []string{"log", "hash"} {
		rule, ok := v.rules[name]
		if !ok {
			continue
		}
		var target interface{} = log
		if name == "hash" {
			target = log.TxHash
		}
		if err := rule.Validate(target); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, toWatchError(err).
				WithContext("block", log.BlockNumber).
				WithContext("tx_hash", log.TxHash))
		}
	}

	return result
}

func toWatchError(err error) *errors.WatchError {
	if we, ok := errors.As(err); ok {
		return we
	}
	return errors.WrapError(err, errors.ErrorTypeDecode, errors.SeverityLow, "LOG_RULE_VALIDATION_FAILED", "日志规则验证失败")
}

// NormalizeAddress 校验地址格式并转为小写，空地址视为非法
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return "", errors.NewValidationError("INVALID_ADDRESS_FORMAT", "地址格式无效").
			WithContext("address", addr)
	}
	return strings.ToLower(addr), nil
}

// ValidatePrice 目标价格必须为正的有限数
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return errors.NewValidationError("INVALID_TARGET_PRICE", "目标价格必须大于0").
			WithContext("price", price)
	}
	return nil
}

// IsValidHash 是否为32字节的0x哈希
func IsValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

// Name 规则名称
func (r *AddressValidationRule) Name() string { return "address" }

// Validate 验证地址
func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return errors.NewValidationError("INVALID_DATA_TYPE", "数据类型错误，期望地址字符串")
	}
	_, err := NormalizeAddress(addr)
	return err
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

// Name 规则名称
func (r *HashValidationRule) Name() string { return "hash" }

// Validate 验证哈希
func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return errors.NewValidationError("INVALID_DATA_TYPE", "数据类型错误，期望哈希字符串")
	}
	if !IsValidHash(hash) {
		return errors.NewDecodeError("交易哈希", nil).WithContext("hash", hash)
	}
	return nil
}

// LogValidationRule 日志验证规则
type LogValidationRule struct{}

// Name 规则名称
func (r *LogValidationRule) Name() string { return "log" }

// Validate 验证日志的topic和data字段
func (r *LogValidationRule) Validate(data interface{}) error {
	log, ok := data.(models.LogRecord)
	if !ok {
		return errors.NewValidationError("INVALID_DATA_TYPE", "数据类型错误，期望LogRecord")
	}
	if len(log.Topics) == 0 {
		return errors.NewDecodeError("日志topic", nil).WithContext("reason", "缺少topic0")
	}
	for _, topic := range log.Topics {
		if !IsValidHash(topic) {
			return errors.NewDecodeError("日志topic", nil).WithContext("topic", topic)
		}
	}
	if log.Data != "" && !hexRegex.MatchString(log.Data) {
		return errors.NewDecodeError("日志data", nil).WithContext("reason", "非十六进制")
	}
	return nil
}
