package chaintest

import (
	"math/big"
	"strings"

	"tokenwatch/internal/chain"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TransferLog 构造Transfer日志
func TransferLog(token string, block uint64, tx, from, to string, amount *big.Int) models.LogRecord {
	return models.LogRecord{
		BlockNumber: block,
		TxHash:      tx,
		Address:     strings.ToLower(token),
		Topics:      []string{chain.TransferTopic, chain.PadAddressTopic(from), chain.PadAddressTopic(to)},
		Data:        hexutil.Encode(common.LeftPadBytes(amount.Bytes(), 32)),
	}
}

// SwapLog 构造UniswapV2 Swap日志
func SwapLog(pair string, block uint64, tx, sender, to string, amount0In, amount1In, amount0Out, amount1Out *big.Int) models.LogRecord {
	data := make([]byte, 0, 128)
	for _, v := range []*big.Int{amount0In, amount1In, amount0Out, amount1Out} {
		data = append(data, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return models.LogRecord{
		BlockNumber: block,
		TxHash:      tx,
		Address:     strings.ToLower(pair),
		Topics:      []string{chain.SwapTopic, chain.PadAddressTopic(sender), chain.PadAddressTopic(to)},
		Data:        hexutil.Encode(data),
	}
}

// Tx 生成测试用交易哈希
func Tx(n int) string {
	return common.BigToHash(big.NewInt(int64(n))).Hex()
}

// Addr 生成测试用地址（小写）
func Addr(n int) string {
	return strings.ToLower(common.BigToAddress(big.NewInt(int64(n))).Hex())
}

// Tokens 将整数代币数量换算为18位精度的原始值
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(models.TokenDecimals), nil))
}
