package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals 代币精度（10^18）
const TokenDecimals = 18

// ZeroAddress 零地址（铸造来源/销毁目标）
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TransferEvent Transfer事件
type TransferEvent struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Amount      *big.Int `json:"amount"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
}

// TokenAmount 按18位精度换算后的代币数量
func (t *TransferEvent) TokenAmount() decimal.Decimal {
	return ToTokenUnits(t.Amount)
}

// ToTokenUnits 将原始整数金额换算为代币单位
func ToTokenUnits(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -TokenDecimals)
}

// TransferSummary 钱包缓存中保留的单笔转账摘要
type TransferSummary struct {
	BlockNumber uint64          `json:"block"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx"`
}
