package chain

import (
	"context"
	"math/big"
	"strings"

	"tokenwatch/internal/errors"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// TransferTopic keccak("Transfer(address,address,uint256)")
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()
	// SwapTopic keccak("Swap(address,uint256,uint256,uint256,uint256,address)")，UniswapV2风格
	SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)")).Hex()

	// Token0Selector token0()
	Token0Selector = crypto.Keccak256([]byte("token0()"))[:4]
	// BalanceOfSelector balanceOf(address)
	BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// PadAddressTopic 将地址左补零为32字节topic
func PadAddressTopic(addr string) string {
	return common.BytesToHash(common.HexToAddress(addr).Bytes()).Hex()
}

// EncodeBalanceOf 构造balanceOf(addr)调用数据
func EncodeBalanceOf(addr string) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, BalanceOfSelector...)
	return append(data, common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)...)
}

// DecodeUint256 解码eth_call返回的uint256，空结果视为0
func DecodeUint256(result []byte) *big.Int {
	if len(result) > 32 {
		result = result[:32]
	}
	return new(big.Int).SetBytes(result)
}

// DecodeAddressWord 解码返回值中的地址（取第一个32字节字的低20字节）
func DecodeAddressWord(result []byte) (string, error) {
	if len(result) < 32 {
		return "", errors.NewDecodeError("地址返回值", nil).WithContext("length", len(result))
	}
	return strings.ToLower(common.BytesToAddress(result[12:32]).Hex()), nil
}

// TokenBalance 查询holder的代币原始余额
func TokenBalance(ctx context.Context, client Client, token, holder string) (*big.Int, error) {
	result, err := client.Call(ctx, token, EncodeBalanceOf(holder))
	if err != nil {
		return nil, err
	}
	return DecodeUint256(result), nil
}

// DecodeTransfer 解码Transfer日志
func DecodeTransfer(log models.LogRecord) (*models.TransferEvent, error) {
	if !log.HasSignature(TransferTopic) {
		return nil, errors.NewDecodeError("Transfer事件", nil).WithContext("reason", "topic0不匹配")
	}
	if len(log.Topics) < 3 {
		return nil, errors.NewDecodeError("Transfer事件", nil).WithContext("topics", len(log.Topics))
	}

	from, okFrom := models.TopicAddress(log.Topics[1])
	to, okTo := models.TopicAddress(log.Topics[2])
	if !okFrom || !okTo {
		return nil, errors.NewDecodeError("Transfer地址", nil).WithContext("tx_hash", log.TxHash)
	}

	data, err := hexutil.Decode(normalizeHex(log.Data))
	if err != nil {
		return nil, errors.NewDecodeError("Transfer金额", err).WithContext("tx_hash", log.TxHash)
	}
	if len(data) < 32 {
		return nil, errors.NewDecodeError("Transfer金额", nil).
			WithContext("tx_hash", log.TxHash).
			WithContext("length", len(data))
	}

	return &models.TransferEvent{
		From:        from,
		To:          to,
		Amount:      new(big.Int).SetBytes(data[:32]),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}, nil
}

// normalizeHex hexutil要求0x前缀，空data按"0x"处理
func normalizeHex(s string) string {
	if s == "" {
		return "0x"
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "0x" + s
	}
	return s
}

// DecodeHexData 解码日志data字段
func DecodeHexData(data string) ([]byte, error) {
	return hexutil.Decode(normalizeHex(data))
}
