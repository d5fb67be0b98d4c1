package models

import "time"

// Direction 价格提醒方向
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Flip 返回相反方向
func (d Direction) Flip() Direction {
	if d == DirectionAbove {
		return DirectionBelow
	}
	return DirectionAbove
}

// Valid 是否为合法方向
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// PriceAlert 价格提醒
type PriceAlert struct {
	OwnerID       int64      `json:"owner_id"`
	TargetPrice   float64    `json:"target_price"`
	Direction     Direction  `json:"direction"`
	Recurring     bool       `json:"recurring"`
	Created       time.Time  `json:"created"`
	LastTriggered *time.Time `json:"last_triggered"`
}

// Crossed 当前价格是否越过目标价
func (a *PriceAlert) Crossed(price float64) bool {
	switch a.Direction {
	case DirectionAbove:
		return price >= a.TargetPrice
	case DirectionBelow:
		return price <= a.TargetPrice
	}
	return false
}

// OwnerAlerts 单个订阅者的提醒列表
type OwnerAlerts struct {
	Username string       `json:"username"`
	Alerts   []PriceAlert `json:"alerts"`
}

// ChatAlertSetting 聊天的买卖提醒设置
type ChatAlertSetting struct {
	BuyAlertsEnabled  bool    `json:"buy_bot_enabled"`
	SellAlertsEnabled bool    `json:"sell_bot_enabled"`
	MinUSD            float64 `json:"buy_threshold"`
}
