package models

import (
	"strings"
)

// LogRecord 链上日志记录（获取后不可变）
type LogRecord struct {
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	LogIndex    uint     `json:"log_index"`
}

// Topic 返回指定位置的主题，不存在时返回空字符串
func (l *LogRecord) Topic(i int) string {
	if i < 0 || i >= len(l.Topics) {
		return ""
	}
	return l.Topics[i]
}

// HasSignature 判断topic0是否为指定事件签名
func (l *LogRecord) HasSignature(sig string) bool {
	return strings.EqualFold(l.Topic(0), sig)
}

// TopicAddress 从主题的低40位十六进制字符中提取地址（小写）
func TopicAddress(topic string) (string, bool) {
	topic = strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(topic) < 40 {
		return "", false
	}
	return "0x" + topic[len(topic)-40:], true
}
