package swap

import (
	"math/big"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/errors"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
)

// swapDataLen amount0In, amount1In, amount0Out, amount1Out 各32字节
const swapDataLen = 4 * 32

// Amounts Swap事件解码后的四个金额
type Amounts struct {
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int

	// Counterparty 最后一个topic中的接收地址，topics不足3个时为空
	Counterparty string
	TxHash       string
	BlockNumber  uint64
}

// DecodeSwap 解码UniswapV2 Swap日志
func DecodeSwap(log models.LogRecord) (*Amounts, error) {
	if !log.HasSignature(chain.SwapTopic) {
		return nil, errors.NewDecodeError("Swap事件", nil).WithContext("reason", "topic0不匹配")
	}

	data, err := chain.DecodeHexData(log.Data)
	if err != nil {
		return nil, errors.NewDecodeError("Swap金额", err).WithContext("tx_hash", log.TxHash)
	}
	if len(data) < swapDataLen {
		return nil, errors.NewDecodeError("Swap金额", nil).
			WithContext("tx_hash", log.TxHash).
			WithContext("length", len(data))
	}

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(data[i*32 : (i+1)*32])
	}

	amounts := &Amounts{
		Amount0In:   word(0),
		Amount1In:   word(1),
		Amount0Out:  word(2),
		Amount1Out:  word(3),
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
	}
	if len(log.Topics) >= 3 {
		if addr, ok := models.TopicAddress(log.Topics[len(log.Topics)-1]); ok {
			amounts.Counterparty = addr
		}
	}
	return amounts, nil
}

// Classify 根据被跟踪代币的位置计算净流向
// 代币流出池子为买入，流入池子为卖出；双向时取差值，相等视为无操作
func Classify(a *Amounts, trackedIsToken0 bool) (models.SwapDirection, *big.Int, bool) {
	in, out := a.Amount1In, a.Amount1Out
	if trackedIsToken0 {
		in, out = a.Amount0In, a.Amount0Out
	}

	inPos := in.Sign() > 0
	outPos := out.Sign() > 0

	switch {
	case outPos && !inPos:
		return models.SwapBuy, new(big.Int).Set(out), true
	case inPos && !outPos:
		return models.SwapSell, new(big.Int).Set(in), true
	case inPos && outPos:
		switch out.Cmp(in) {
		case 1:
			return models.SwapBuy, new(big.Int).Sub(out, in), true
		case -1:
			return models.SwapSell, new(big.Int).Sub(in, out), true
		}
	}
	return "", nil, false
}

// Build 组装分类结果，snapshot为nil时USD金额为0
func Build(a *Amounts, direction models.SwapDirection, magnitude *big.Int, snapshot *models.PriceSnapshot) *models.ClassifiedSwap {
	tokens := models.ToTokenUnits(magnitude)
	result := &models.ClassifiedSwap{
		Direction:    direction,
		TokenAmount:  tokens,
		USDAmount:    decimal.Zero,
		TxHash:       a.TxHash,
		Counterparty: a.Counterparty,
		BlockNumber:  a.BlockNumber,
	}
	if snapshot != nil && snapshot.PriceUSD > 0 {
		result.PriceUSD = snapshot.PriceUSD
		result.USDAmount = tokens.Mul(decimal.NewFromFloat(snapshot.PriceUSD))
	}
	return result
}
