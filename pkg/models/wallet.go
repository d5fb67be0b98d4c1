package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// WalletScanResult 钱包转账扫描结果
//
// TotalIn/TotalOut 覆盖整个扫描区间，InTxns/OutTxns 只保留最近的若干笔，
// 因此两者可能不一致。
type WalletScanResult struct {
	InTxns           []TransferSummary `json:"in_txns"`
	OutTxns          []TransferSummary `json:"out_txns"`
	TotalIn          decimal.Decimal   `json:"total_in"`
	TotalOut         decimal.Decimal   `json:"total_out"`
	BuyCount         int               `json:"buy_count"`
	SellCount        int               `json:"sell_count"`
	LastScannedBlock uint64            `json:"last_scanned_block"`
	LastUpdated      time.Time         `json:"last_updated"`
	Partial          bool              `json:"partial,omitempty"`
}

// IsEmpty 是否从未扫描过
func (w *WalletScanResult) IsEmpty() bool {
	return w == nil || w.LastUpdated.IsZero()
}

// Age 距上次扫描的时长
func (w *WalletScanResult) Age(now time.Time) time.Duration {
	if w.IsEmpty() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(w.LastUpdated)
}

// TrackedWallet 订阅者关注的钱包
type TrackedWallet struct {
	Address string    `json:"address"`
	Label   string    `json:"label"`
	Added   time.Time `json:"added"`
}

// OwnerTracked 单个订阅者的关注列表
type OwnerTracked struct {
	Username string          `json:"username"`
	Wallets  []TrackedWallet `json:"wallets"`
}
