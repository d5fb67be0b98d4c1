package swap

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/chain/chaintest"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/retry"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pair  = "0x714a9fd5d4e6bf8e8b1b1c3b2e4fd1f41a3b182d"
	token = "0x81a224f8a62f52bde942dbf23a56df77a10b7777"
)

func amounts(a0in, a1in, a0out, a1out int64) *Amounts {
	return &Amounts{
		Amount0In:  big.NewInt(a0in),
		Amount1In:  big.NewInt(a1in),
		Amount0Out: big.NewInt(a0out),
		Amount1Out: big.NewInt(a1out),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		amounts   *Amounts
		token0    bool
		direction models.SwapDirection
		magnitude int64
		ok        bool
	}{
		{"买入token0", amounts(0, 0, 1000, 0), true, models.SwapBuy, 1000, true},
		{"净买入", amounts(500, 0, 1200, 0), true, models.SwapBuy, 700, true},
		{"净卖出", amounts(1200, 0, 500, 0), true, models.SwapSell, 700, true},
		{"卖出token0", amounts(300, 0, 0, 50), true, models.SwapSell, 300, true},
		{"双向相等", amounts(400, 0, 400, 0), true, "", 0, false},
		{"全零", amounts(0, 0, 0, 0), true, "", 0, false},
		{"买入token1", amounts(10, 0, 0, 900), false, models.SwapBuy, 900, true},
		{"卖出token1", amounts(0, 250, 90, 0), false, models.SwapSell, 250, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direction, magnitude, ok := Classify(tt.amounts, tt.token0)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.direction, direction)
			if tt.ok {
				assert.Equal(t, 0, magnitude.Cmp(big.NewInt(tt.magnitude)), "magnitude=%s", magnitude)
			} else {
				assert.Nil(t, magnitude)
			}
		})
	}
}

func TestDecodeSwap(t *testing.T) {
	log := chaintest.SwapLog(pair, 120, chaintest.Tx(7), chaintest.Addr(1), chaintest.Addr(2),
		big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4))

	a, err := DecodeSwap(log)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Amount0In.Int64())
	assert.Equal(t, int64(2), a.Amount1In.Int64())
	assert.Equal(t, int64(3), a.Amount0Out.Int64())
	assert.Equal(t, int64(4), a.Amount1Out.Int64())
	assert.Equal(t, chaintest.Addr(2), a.Counterparty)
	assert.Equal(t, uint64(120), a.BlockNumber)
	assert.Equal(t, chaintest.Tx(7), a.TxHash)
}

func TestDecodeSwap_Errors(t *testing.T) {
	good := chaintest.SwapLog(pair, 1, chaintest.Tx(1), chaintest.Addr(1), chaintest.Addr(2),
		big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(1))

	short := good
	short.Data = good.Data[:2+64*3]

	badHex := good
	badHex.Data = "0xzz"

	wrongTopic := good
	wrongTopic.Topics = []string{chain.TransferTopic}

	for name, log := range map[string]models.LogRecord{"数据不足": short, "非十六进制": badHex, "签名不匹配": wrongTopic} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSwap(log)
			require.Error(t, err)
			assert.True(t, errors.IsDecode(err))
		})
	}
}

func TestDecodeSwap_NoCounterpartyWithShortTopics(t *testing.T) {
	log := chaintest.SwapLog(pair, 1, chaintest.Tx(1), chaintest.Addr(1), chaintest.Addr(2),
		big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(1))
	log.Topics = log.Topics[:2]

	a, err := DecodeSwap(log)
	require.NoError(t, err)
	assert.Empty(t, a.Counterparty)
}

func TestBuild_USDValue(t *testing.T) {
	a := amounts(0, 0, 0, 0)
	a.TxHash = chaintest.Tx(3)

	swap := Build(a, models.SwapBuy, chaintest.Tokens(2500), &models.PriceSnapshot{PriceUSD: 0.002})
	assert.True(t, swap.TokenAmount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, swap.USDAmount.Equal(decimal.NewFromInt(5)), "usd=%s", swap.USDAmount)
	assert.Equal(t, 0.002, swap.PriceUSD)

	noPrice := Build(a, models.SwapSell, chaintest.Tokens(10), nil)
	assert.True(t, noPrice.USDAmount.IsZero())
	assert.Equal(t, models.SwapSell, noPrice.Direction)
}

func token0Result(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func TestPositionResolver_Memoized(t *testing.T) {
	client := chaintest.NewFakeClient(100)
	client.CallFn = func(to string, data []byte) ([]byte, error) {
		assert.Equal(t, pair, to)
		assert.Equal(t, chain.Token0Selector, data)
		return token0Result("0x0000000000000000000000000000000000000001"), nil
	}
	logger, _ := test.NewNullLogger()
	r := NewPositionResolver(client, pair, token, logger)

	assert.False(t, r.IsToken0(context.Background()))
	assert.False(t, r.IsToken0(context.Background()))
	assert.Equal(t, 1, client.Calls("eth_call"))
}

func TestPositionResolver_FailureDefaultsToToken0(t *testing.T) {
	client := chaintest.NewFakeClient(100)
	client.CallFn = func(string, []byte) ([]byte, error) {
		return nil, stderrors.New("boom")
	}
	logger, hook := test.NewNullLogger()
	r := NewPositionResolver(client, pair, token, logger)

	assert.True(t, r.IsToken0(context.Background()))
	assert.True(t, r.IsToken0(context.Background()))
	assert.Equal(t, 1, client.Calls("eth_call"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestClassifier_ClassifyLog(t *testing.T) {
	client := chaintest.NewFakeClient(100)
	client.CallFn = func(string, []byte) ([]byte, error) { return token0Result(token), nil }
	logger, _ := test.NewNullLogger()
	c := NewClassifier(NewPositionResolver(client, pair, token, logger), logger)

	buy := chaintest.SwapLog(pair, 10, chaintest.Tx(1), chaintest.Addr(1), chaintest.Addr(9),
		big.NewInt(0), chaintest.Tokens(1), chaintest.Tokens(1000), big.NewInt(0))
	swap, err := c.ClassifyLog(context.Background(), buy, &models.PriceSnapshot{PriceUSD: 0.01})
	require.NoError(t, err)
	require.NotNil(t, swap)
	assert.Equal(t, models.SwapBuy, swap.Direction)
	assert.True(t, swap.USDAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, chaintest.Addr(9), swap.Counterparty)

	noop := chaintest.SwapLog(pair, 11, chaintest.Tx(2), chaintest.Addr(1), chaintest.Addr(9),
		chaintest.Tokens(5), big.NewInt(0), chaintest.Tokens(5), big.NewInt(0))
	swap, err = c.ClassifyLog(context.Background(), noop, nil)
	require.NoError(t, err)
	assert.Nil(t, swap)

	broken := buy
	broken.Data = "0x01"
	_, err = c.ClassifyLog(context.Background(), broken, nil)
	assert.True(t, errors.IsDecode(err))
}

func TestClassifier_RejectsMalformedLogWithValidator(t *testing.T) {
	client := chaintest.NewFakeClient(100)
	client.CallFn = func(string, []byte) ([]byte, error) { return token0Result(token), nil }
	logger, _ := test.NewNullLogger()
	c := NewClassifier(NewPositionResolver(client, pair, token, logger), logger).
		WithValidator(validation.NewValidator(logger))

	log := chaintest.SwapLog(pair, 10, "0xnothash", chaintest.Addr(1), chaintest.Addr(9),
		big.NewInt(0), chaintest.Tokens(1), chaintest.Tokens(1000), big.NewInt(0))
	swap, err := c.ClassifyLog(context.Background(), log, nil)
	require.Error(t, err)
	assert.Nil(t, swap)

	log.TxHash = chaintest.Tx(3)
	swap, err = c.ClassifyLog(context.Background(), log, nil)
	require.NoError(t, err)
	require.NotNil(t, swap)
}

func TestPositionResolver_RetriesTransientFailure(t *testing.T) {
	client := chaintest.NewFakeClient(100)
	calls := 0
	client.CallFn = func(string, []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, stderrors.New("timeout")
		}
		return token0Result("0x0000000000000000000000000000000000000001"), nil
	}
	logger, _ := test.NewNullLogger()
	r := NewPositionResolver(client, pair, token, logger).
		WithRetrier(retry.NewRetrier(&retry.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, BackoffFactor: 1}, logger))

	assert.False(t, r.IsToken0(context.Background()))
	assert.Equal(t, 2, client.Calls("eth_call"))
}
