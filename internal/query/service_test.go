package query

import (
	"bytes"
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/chain/chaintest"
	"tokenwatch/internal/scanner"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token = "0x81a224f8a62f52bde942dbf23a56df77a10b7777"
	burn  = "0x000000000000000000000000000000000000dead"
)

type stubFeed struct {
	snapshot *models.PriceSnapshot
	err      error
}

func (f *stubFeed) Snapshot(context.Context) (*models.PriceSnapshot, error) {
	return f.snapshot, f.err
}

type stubWallets struct {
	result *models.WalletScanResult
	err    error
	calls  int
	cached map[string]*models.WalletScanResult
}

func (w *stubWallets) Get(wallet string) (*models.WalletScanResult, error) {
	return w.cached[strings.ToLower(wallet)], nil
}

func (w *stubWallets) Scan(context.Context, string) (*models.WalletScanResult, error) {
	w.calls++
	return w.result, w.err
}

type fixture struct {
	client  *chaintest.FakeClient
	feed    *stubFeed
	wallets *stubWallets
	tokens  map[string]*big.Int
	service *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	f := &fixture{
		client:  chaintest.NewFakeClient(5000),
		feed:    &stubFeed{snapshot: &models.PriceSnapshot{PriceUSD: 0.5}},
		wallets: &stubWallets{cached: make(map[string]*models.WalletScanResult)},
		tokens:  make(map[string]*big.Int),
	}
	f.client.CallFn = func(to string, data []byte) ([]byte, error) {
		if !bytes.HasPrefix(data, chain.BalanceOfSelector) || len(data) < 36 {
			return nil, stderrors.New("unexpected call")
		}
		holder := strings.ToLower(common.BytesToAddress(data[16:36]).Hex())
		bal, ok := f.tokens[holder]
		if !ok {
			bal = big.NewInt(0)
		}
		return common.LeftPadBytes(bal.Bytes(), 32), nil
	}

	if cfg.Token == "" {
		cfg.Token = token
	}
	opts := scanner.DefaultOptions()
	opts.Pause = 0
	opts.FailureBackoff = 0
	f.service = NewService(f.client, scanner.New(f.client, opts, logger), f.wallets, f.feed, cfg, logger)
	return f
}

func TestPnL_CombinesBalancePriceAndHistory(t *testing.T) {
	f := newFixture(t, Config{})
	wallet := chaintest.Addr(0xaa)
	f.tokens[wallet] = chaintest.Tokens(1000)

	scanned := time.Now().Add(-time.Hour)
	f.wallets.result = &models.WalletScanResult{
		TotalIn:          decimal.NewFromInt(1500),
		TotalOut:         decimal.NewFromInt(500),
		BuyCount:         3,
		SellCount:        1,
		LastScannedBlock: 4990,
		LastUpdated:      scanned,
	}

	report, err := f.service.PnL(context.Background(), strings.ToUpper(wallet[:2])+wallet[2:])
	require.NoError(t, err)
	assert.Equal(t, wallet, report.Wallet)
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, report.ValueUSD.Equal(decimal.NewFromInt(500)), report.ValueUSD.String())
	assert.True(t, report.NetTokens.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 3, report.BuyCount)
	assert.Equal(t, 1, report.SellCount)
	assert.True(t, report.Holder)
	assert.True(t, report.Cached)
	assert.Equal(t, uint64(4990), report.LastScannedBlock)
}

func TestPnL_NetZeroWithoutInbound(t *testing.T) {
	f := newFixture(t, Config{})
	f.wallets.result = &models.WalletScanResult{
		TotalIn:     decimal.Zero,
		TotalOut:    decimal.NewFromInt(10),
		LastUpdated: time.Now(),
	}

	report, err := f.service.PnL(context.Background(), chaintest.Addr(0xbb))
	require.NoError(t, err)
	assert.True(t, report.NetTokens.IsZero())
	assert.False(t, report.Holder)
}

func TestPnL_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "price feed down",
			setup: func(f *fixture) { f.feed.snapshot, f.feed.err = nil, stderrors.New("timeout") },
		},
		{
			name:  "no price data",
			setup: func(f *fixture) { f.feed.snapshot = nil },
		},
		{
			name: "balance call fails",
			setup: func(f *fixture) {
				f.client.CallFn = func(string, []byte) ([]byte, error) { return nil, stderrors.New("rpc down") }
			},
		},
		{
			name:  "scan fails without cache",
			setup: func(f *fixture) { f.wallets.err = stderrors.New("height") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.wallets.result = &models.WalletScanResult{LastUpdated: time.Now()}
			tt.setup(f)
			if f.wallets.err != nil {
				f.wallets.result = nil
			}

			report, err := f.service.PnL(context.Background(), chaintest.Addr(0xcc))
			assert.Nil(t, report)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Contains(t, err.Error(), "unavailable, try again")
		})
	}
}

func TestPnL_StaleCacheServedWhenScanFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.wallets.result = &models.WalletScanResult{
		TotalIn:     decimal.NewFromInt(7),
		LastUpdated: time.Now().Add(-2 * time.Hour),
	}
	f.wallets.err = stderrors.New("height")

	report, err := f.service.PnL(context.Background(), chaintest.Addr(0xdd))
	require.NoError(t, err)
	assert.True(t, report.TotalBought.Equal(decimal.NewFromInt(7)))
	assert.True(t, report.Cached)
}

func TestPnL_RejectsInvalidWallet(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.PnL(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, f.wallets.calls)
}

func TestHolders_NetsBalancesAndRanks(t *testing.T) {
	f := newFixture(t, Config{HolderScanBlocks: 2000})
	var logs []models.LogRecord
	// 12个地址从零地址获得铸造
	for i := 1; i <= 12; i++ {
		logs = append(logs, chaintest.TransferLog(token, 3500, chaintest.Tx(i), models.ZeroAddress, chaintest.Addr(i), chaintest.Tokens(int64(i*10))))
	}
	// 地址12转给地址1
	logs = append(logs, chaintest.TransferLog(token, 4000, chaintest.Tx(50), chaintest.Addr(12), chaintest.Addr(1), chaintest.Tokens(100)))
	// 窗口之外的转账不计入
	logs = append(logs, chaintest.TransferLog(token, 2000, chaintest.Tx(51), models.ZeroAddress, chaintest.Addr(99), chaintest.Tokens(1_000_000)))
	f.client.AddLogs(logs...)

	report, err := f.service.Holders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), report.FromBlock)
	assert.Equal(t, uint64(5000), report.ToBlock)
	assert.Equal(t, 12, report.TotalTracked)
	assert.Equal(t, 12, report.HolderCount)
	assert.False(t, report.Estimated)
	require.Len(t, report.Holders, TopHolders)

	assert.Equal(t, chaintest.Addr(1), report.Holders[0].Address)
	assert.True(t, report.Holders[0].Balance.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, 1, report.Holders[0].Rank)
	assert.Equal(t, chaintest.Addr(11), report.Holders[1].Address)
	assert.Equal(t, 2, report.Holders[1].Rank)

	assert.Equal(t, 1, f.service.HolderRank(strings.ToUpper(chaintest.Addr(1))))
	assert.Equal(t, 0, f.service.HolderRank(chaintest.Addr(99)))
	assert.Same(t, report, f.service.LastHolders())
}

func TestHolders_EstimatesWhenFewFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.AddLogs(chaintest.TransferLog(token, 4500, chaintest.Tx(1), models.ZeroAddress, chaintest.Addr(1), chaintest.Tokens(5)))

	f.feed.snapshot.Txns.H24 = models.TxnCount{Buys: 40, Sells: 20}
	report, err := f.service.Holders(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Estimated)
	assert.Equal(t, 240, report.HolderCount)
	assert.Len(t, report.Holders, 1)

	f.feed.snapshot = nil
	f.feed.err = stderrors.New("down")
	report, err = f.service.Holders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MinHolderEstimate, report.HolderCount)
}

func TestHolders_HeightFailureIsUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.HeightErr = stderrors.New("rpc down")

	_, err := f.service.Holders(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, f.service.HolderRank(chaintest.Addr(1)))
}

func TestIsNewHolder(t *testing.T) {
	f := newFixture(t, Config{})
	fresh := chaintest.Addr(0x10)
	regular := chaintest.Addr(0x11)
	f.client.AddLogs(
		chaintest.TransferLog(token, 4900, chaintest.Tx(1), chaintest.Addr(1), fresh, chaintest.Tokens(1)),
		chaintest.TransferLog(token, 4100, chaintest.Tx(2), chaintest.Addr(1), regular, chaintest.Tokens(1)),
		chaintest.TransferLog(token, 4950, chaintest.Tx(3), chaintest.Addr(1), regular, chaintest.Tokens(1)),
		// 窗口之外
		chaintest.TransferLog(token, 3000, chaintest.Tx(4), chaintest.Addr(1), fresh, chaintest.Tokens(1)),
	)

	ok, err := f.service.IsNewHolder(context.Background(), fresh)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.IsNewHolder(context.Background(), regular)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsNewHolder_PartialScan(t *testing.T) {
	f := newFixture(t, Config{})
	fresh := chaintest.Addr(0x12)
	regular := chaintest.Addr(0x13)
	f.client.AddLogs(
		chaintest.TransferLog(token, 4050, chaintest.Tx(1), chaintest.Addr(1), fresh, chaintest.Tokens(1)),
		chaintest.TransferLog(token, 4900, chaintest.Tx(2), chaintest.Addr(1), fresh, chaintest.Tokens(1)),
		chaintest.TransferLog(token, 4800, chaintest.Tx(3), chaintest.Addr(1), regular, chaintest.Tokens(1)),
		chaintest.TransferLog(token, 4900, chaintest.Tx(4), chaintest.Addr(1), regular, chaintest.Tokens(1)),
	)
	// 包含4050的分块失败
	f.client.LogsErr = func(from, to uint64) error {
		if from <= 4050 && 4050 <= to {
			return stderrors.New("rate limited")
		}
		return nil
	}

	ok, err := f.service.IsNewHolder(context.Background(), fresh)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, ok)

	// 已看到两笔转入，分块失败不影响结论
	ok, err = f.service.IsNewHolder(context.Background(), regular)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuyerInfo_PartialScanOmitsNewHolderBadge(t *testing.T) {
	f := newFixture(t, Config{Enrich: true})
	buyer := chaintest.Addr(0x21)
	f.client.AddLogs(chaintest.TransferLog(token, 4999, chaintest.Tx(1), chaintest.Addr(1), buyer, chaintest.Tokens(5)))
	f.client.LogsErr = func(from, to uint64) error {
		if from <= 4200 && 4200 <= to {
			return stderrors.New("rate limited")
		}
		return nil
	}

	info := f.service.BuyerInfo(context.Background(), &models.ClassifiedSwap{Direction: models.SwapBuy, Counterparty: buyer}, f.feed.snapshot)
	require.NotNil(t, info)
	assert.False(t, info.NewHolder)
}

type stubTracked struct {
	wallets map[int64][]models.TrackedWallet
	err     error
}

func (s *stubTracked) List(owner int64) ([]models.TrackedWallet, error) {
	return s.wallets[owner], s.err
}

func TestTracked_UsesCacheWithoutScanning(t *testing.T) {
	f := newFixture(t, Config{})
	whale := chaintest.Addr(0x30)
	fresh := chaintest.Addr(0x31)
	f.tokens[whale] = chaintest.Tokens(2000)
	f.wallets.cached[whale] = &models.WalletScanResult{
		BuyCount:    4,
		SellCount:   2,
		LastUpdated: time.Now().Add(-time.Hour),
	}
	f.service.WithTracked(&stubTracked{wallets: map[int64][]models.TrackedWallet{
		7: {{Address: whale, Label: "Whale1"}, {Address: fresh, Label: fresh}},
	}})

	report, err := f.service.Tracked(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.OwnerID)
	assert.Equal(t, 2, report.Total)
	assert.True(t, report.PriceAvailable)
	assert.Equal(t, 0, f.wallets.calls, "关注列表不触发扫描")

	w := report.Wallets[0]
	assert.Equal(t, "Whale1", w.Label)
	assert.True(t, w.BalanceAvailable)
	assert.True(t, w.Holder)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(2000)))
	assert.True(t, w.ValueUSD.Equal(decimal.NewFromInt(1000)), w.ValueUSD.String())
	assert.True(t, w.Scanned)
	assert.Equal(t, 4, w.BuyCount)
	assert.Equal(t, 2, w.SellCount)

	w = report.Wallets[1]
	assert.False(t, w.Holder)
	assert.False(t, w.Scanned)
	assert.Zero(t, w.BuyCount)
}

func TestTracked_DegradesPerWallet(t *testing.T) {
	f := newFixture(t, Config{})
	f.feed.snapshot = nil
	f.client.CallFn = func(string, []byte) ([]byte, error) { return nil, stderrors.New("rpc down") }
	f.service.WithTracked(&stubTracked{wallets: map[int64][]models.TrackedWallet{
		7: {{Address: chaintest.Addr(0x32)}},
	}})

	report, err := f.service.Tracked(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, report.PriceAvailable)
	require.Len(t, report.Wallets, 1)
	assert.False(t, report.Wallets[0].BalanceAvailable)
	assert.True(t, report.Wallets[0].ValueUSD.IsZero())
}

func TestTracked_EmptyAndStoreError(t *testing.T) {
	f := newFixture(t, Config{})
	report, err := f.service.Tracked(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, report.Wallets)

	f.service.WithTracked(&stubTracked{err: stderrors.New("bolt closed")})
	_, err = f.service.Tracked(context.Background(), 1)
	assert.Error(t, err)
}

func TestBurned_SumsZeroAndBurnAddress(t *testing.T) {
	f := newFixture(t, Config{BurnAddress: burn})
	f.tokens[models.ZeroAddress] = chaintest.Tokens(100)
	f.tokens[burn] = chaintest.Tokens(900)

	report, err := f.service.Burned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{models.ZeroAddress, burn}, report.Addresses)
	assert.True(t, report.Burned.Equal(decimal.NewFromInt(1000)))
	assert.True(t, report.PriceAvailable)
	assert.True(t, report.ValueUSD.Equal(decimal.NewFromInt(500)))

	f.feed.snapshot = nil
	report, err = f.service.Burned(context.Background())
	require.NoError(t, err)
	assert.False(t, report.PriceAvailable)
	assert.True(t, report.ValueUSD.IsZero())
}

func TestGas_ConvertsToGwei(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.Gas = big.NewInt(52_500_000_000)

	report, err := f.service.Gas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "52500000000", report.Wei)
	assert.True(t, report.Gwei.Equal(decimal.RequireFromString("52.5")))
}

func TestPrice_Unavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.feed.snapshot = nil
	_, err := f.service.Price(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBuyerInfo(t *testing.T) {
	buyer := chaintest.Addr(0x20)
	swap := &models.ClassifiedSwap{Direction: models.SwapBuy, Counterparty: buyer}

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, Config{})
		assert.Nil(t, f.service.BuyerInfo(context.Background(), swap, f.feed.snapshot))
	})

	t.Run("no counterparty", func(t *testing.T) {
		f := newFixture(t, Config{Enrich: true})
		assert.Nil(t, f.service.BuyerInfo(context.Background(), &models.ClassifiedSwap{Direction: models.SwapBuy}, f.feed.snapshot))
	})

	t.Run("enriched buy", func(t *testing.T) {
		f := newFixture(t, Config{Enrich: true})
		f.client.Balances[buyer] = chaintest.Tokens(3)
		f.tokens[buyer] = chaintest.Tokens(20)
		f.client.AddLogs(chaintest.TransferLog(token, 4999, chaintest.Tx(1), chaintest.Addr(1), buyer, chaintest.Tokens(20)))

		info := f.service.BuyerInfo(context.Background(), swap, f.feed.snapshot)
		require.NotNil(t, info)
		require.NotNil(t, info.NativeBalance)
		assert.True(t, info.NativeBalance.Equal(decimal.NewFromInt(3)))
		require.NotNil(t, info.TokenValueUSD)
		assert.True(t, info.TokenValueUSD.Equal(decimal.NewFromInt(10)))
		assert.True(t, info.NewHolder)
		assert.Equal(t, 0, info.Rank)
	})

	t.Run("sell skips new holder", func(t *testing.T) {
		f := newFixture(t, Config{Enrich: true})
		sell := &models.ClassifiedSwap{Direction: models.SwapSell, Counterparty: buyer}
		info := f.service.BuyerInfo(context.Background(), sell, nil)
		require.NotNil(t, info)
		assert.False(t, info.NewHolder)
		assert.Nil(t, info.TokenValueUSD)
		assert.Zero(t, f.client.Calls("eth_getLogs"))
	})
}
