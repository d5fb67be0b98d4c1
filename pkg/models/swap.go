package models

import "github.com/shopspring/decimal"

// SwapDirection 交易方向
type SwapDirection string

const (
	SwapBuy  SwapDirection = "buy"
	SwapSell SwapDirection = "sell"
)

// ClassifiedSwap 分类后的交易
type ClassifiedSwap struct {
	Direction    SwapDirection   `json:"direction"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	USDAmount    decimal.Decimal `json:"usd_amount"`
	PriceUSD     float64         `json:"price_usd"`
	TxHash       string          `json:"tx_hash"`
	Counterparty string          `json:"counterparty,omitempty"`
	BlockNumber  uint64          `json:"block_number"`
}
