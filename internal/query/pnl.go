package query

import (
	"context"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
)

// PnLReport 钱包持仓与历史买卖
type PnLReport struct {
	Wallet           string          `json:"wallet"`
	Balance          decimal.Decimal `json:"balance"`
	PriceUSD         float64         `json:"price_usd"`
	ValueUSD         decimal.Decimal `json:"value_usd"`
	TotalBought      decimal.Decimal `json:"total_bought"`
	TotalSold        decimal.Decimal `json:"total_sold"`
	BuyCount         int             `json:"buy_count"`
	SellCount        int             `json:"sell_count"`
	NetTokens        decimal.Decimal `json:"net_tokens"`
	Holder           bool            `json:"holder"`
	Cached           bool            `json:"cached"`
	Partial          bool            `json:"partial"`
	LastScanned      time.Time       `json:"last_scanned"`
	LastScannedBlock uint64          `json:"last_scanned_block"`
}

// PnL 查询钱包余额、价值和转账汇总
// 余额、行情或扫描结果任一拿不到时返回ErrUnavailable
func (s *Service) PnL(ctx context.Context, wallet string) (*PnLReport, error) {
	wallet, err := validation.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}

	raw, err := chain.TokenBalance(ctx, s.client, s.cfg.Token, wallet)
	if err != nil {
		return nil, s.unavailable("pnl.balance", err)
	}

	snapshot, err := s.feed.Snapshot(ctx)
	if err != nil || snapshot == nil {
		return nil, s.unavailable("pnl.price", err)
	}

	started := s.now()
	scan, err := s.wallets.Scan(ctx, wallet)
	if scan == nil {
		return nil, s.unavailable("pnl.scan", err)
	}
	if err != nil {
		s.logger.WithField("wallet", wallet).Warnf("钱包扫描失败，使用旧缓存: %v", err)
	}

	balance := models.ToTokenUnits(raw)
	report := &PnLReport{
		Wallet:           wallet,
		Balance:          balance,
		PriceUSD:         snapshot.PriceUSD,
		ValueUSD:         balance.Mul(decimal.NewFromFloat(snapshot.PriceUSD)),
		TotalBought:      scan.TotalIn,
		TotalSold:        scan.TotalOut,
		BuyCount:         scan.BuyCount,
		SellCount:        scan.SellCount,
		NetTokens:        decimal.Zero,
		Holder:           raw.Sign() > 0,
		Cached:           scan.LastUpdated.Before(started),
		Partial:          scan.Partial,
		LastScanned:      scan.LastUpdated,
		LastScannedBlock: scan.LastScannedBlock,
	}
	if scan.TotalIn.IsPositive() {
		report.NetTokens = scan.TotalIn.Sub(scan.TotalOut)
	}
	return report, nil
}
