package query

import (
	"context"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
)

// TrackedEntry 单个关注钱包的概况
type TrackedEntry struct {
	Address          string          `json:"address"`
	Label            string          `json:"label"`
	Balance          decimal.Decimal `json:"balance"`
	BalanceAvailable bool            `json:"balance_available"`
	ValueUSD         decimal.Decimal `json:"value_usd"`
	Holder           bool            `json:"holder"`
	BuyCount         int             `json:"buy_count"`
	SellCount        int             `json:"sell_count"`
	// Scanned 是否已有扫描缓存，没有时买卖笔数为0
	Scanned     bool      `json:"scanned"`
	LastScanned time.Time `json:"last_scanned,omitempty"`
}

// TrackedReport 订阅者的关注钱包列表
type TrackedReport struct {
	OwnerID        int64          `json:"owner_id"`
	Wallets        []TrackedEntry `json:"wallets"`
	Total          int            `json:"total"`
	PriceUSD       float64        `json:"price_usd"`
	PriceAvailable bool           `json:"price_available"`
}

// Tracked 汇总关注钱包的余额和缓存中的买卖记录
//
// 只读取钱包缓存，不触发扫描；完整分析走PnL。单个钱包余额查询失败只标记该项。
func (s *Service) Tracked(ctx context.Context, owner int64) (*TrackedReport, error) {
	report := &TrackedReport{OwnerID: owner, Wallets: []TrackedEntry{}}
	if s.tracked == nil {
		return report, nil
	}
	wallets, err := s.tracked.List(owner)
	if err != nil {
		return nil, err
	}

	price := decimal.Zero
	if snapshot, err := s.feed.Snapshot(ctx); err == nil && snapshot != nil {
		report.PriceUSD = snapshot.PriceUSD
		report.PriceAvailable = true
		price = decimal.NewFromFloat(snapshot.PriceUSD)
	}

	for _, w := range wallets {
		log := s.logger.WithField("wallet", w.Address)
		entry := TrackedEntry{
			Address:  w.Address,
			Label:    w.Label,
			Balance:  decimal.Zero,
			ValueUSD: decimal.Zero,
		}

		if raw, err := chain.TokenBalance(ctx, s.client, s.cfg.Token, w.Address); err == nil {
			entry.Balance = models.ToTokenUnits(raw)
			entry.BalanceAvailable = true
			entry.Holder = raw.Sign() > 0
			entry.ValueUSD = entry.Balance.Mul(price)
		} else {
			log.Debugf("查询关注钱包余额失败: %v", err)
		}

		cached, err := s.wallets.Get(w.Address)
		if err != nil {
			log.Debugf("读取钱包缓存失败: %v", err)
		}
		if !cached.IsEmpty() {
			entry.Scanned = true
			entry.BuyCount = cached.BuyCount
			entry.SellCount = cached.SellCount
			entry.LastScanned = cached.LastUpdated
		}
		report.Wallets = append(report.Wallets, entry)
	}
	report.Total = len(report.Wallets)
	return report, nil
}
