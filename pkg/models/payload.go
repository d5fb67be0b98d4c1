package models

import "time"

// PayloadKind 通知类型
type PayloadKind string

const (
	PayloadBuy        PayloadKind = "buy"
	PayloadSell       PayloadKind = "sell"
	PayloadPriceAlert PayloadKind = "price_alert"
)

// ActionLink 通知附带的操作链接
type ActionLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// AlertPayload 发往通知通道的格式化消息
type AlertPayload struct {
	Destination int64        `json:"destination"`
	Kind        PayloadKind  `json:"kind"`
	Text        string       `json:"text"`
	Media       string       `json:"media,omitempty"`
	Links       []ActionLink `json:"links,omitempty"`
	TxHash      string       `json:"tx_hash,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
