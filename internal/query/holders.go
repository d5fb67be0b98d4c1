package query

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/dispatch"
	"tokenwatch/internal/scanner"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Holder 持有人
type Holder struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Rank    int             `json:"rank"`
}

// HoldersReport 持有人统计，只覆盖最近HolderScanBlocks个区块内的转账
type HoldersReport struct {
	Holders      []Holder  `json:"holders"`
	HolderCount  int       `json:"holder_count"`
	Estimated    bool      `json:"estimated"`
	TotalTracked int       `json:"total_tracked"`
	FromBlock    uint64    `json:"from_block"`
	ToBlock      uint64    `json:"to_block"`
	Partial      bool      `json:"partial"`
	GeneratedAt  time.Time `json:"generated_at"`
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Holders 向前扫描最近的Transfer并按净余额排序
// 零地址的铸造不扣减余额
func (s *Service) Holders(ctx context.Context) (*HoldersReport, error) {
	height, err := s.client.CurrentHeight(ctx)
	if err != nil {
		return nil, s.unavailable("holders.height", err)
	}

	from := s.cfg.Genesis
	if height > s.cfg.HolderScanBlocks && height-s.cfg.HolderScanBlocks > from {
		from = height - s.cfg.HolderScanBlocks
	}

	result, err := s.scanner.ScanForward(ctx, scanner.ForwardRequest{
		Address: s.cfg.Token,
		Topics:  [][]string{{chain.TransferTopic}},
		From:    from,
		To:      height,
	})
	if err != nil {
		return nil, s.unavailable("holders.scan", err)
	}

	balances := make(map[string]*big.Int)
	credit := func(addr string, amount *big.Int) {
		b, ok := balances[addr]
		if !ok {
			b = new(big.Int)
			balances[addr] = b
		}
		b.Add(b, amount)
	}
	for _, log := range result.Logs {
		ev, err := chain.DecodeTransfer(log)
		if err != nil {
			s.logger.WithField("tx_hash", log.TxHash).Debugf("跳过无法解码的Transfer: %v", err)
			continue
		}
		credit(strings.ToLower(ev.To), ev.Amount)
		if !sameAddress(ev.From, models.ZeroAddress) {
			credit(strings.ToLower(ev.From), new(big.Int).Neg(ev.Amount))
		}
	}

	holders := make([]Holder, 0, len(balances))
	raw := make(map[string]*big.Int, len(balances))
	for addr, bal := range balances {
		if bal.Sign() <= 0 || sameAddress(addr, models.ZeroAddress) {
			continue
		}
		raw[addr] = bal
		holders = append(holders, Holder{Address: addr, Balance: models.ToTokenUnits(bal)})
	}
	sort.Slice(holders, func(i, j int) bool {
		if c := raw[holders[i].Address].Cmp(raw[holders[j].Address]); c != 0 {
			return c > 0
		}
		return holders[i].Address < holders[j].Address
	})
	for i := range holders {
		holders[i].Rank = i + 1
	}

	report := &HoldersReport{
		HolderCount:  len(holders),
		TotalTracked: len(holders),
		FromBlock:    from,
		ToBlock:      height,
		Partial:      result.Partial,
		GeneratedAt:  s.now(),
	}
	if len(holders) > TopHolders {
		report.Holders = holders[:TopHolders]
	} else {
		report.Holders = holders
		report.HolderCount = s.estimateHolders(ctx, len(holders))
		report.Estimated = true
	}

	s.mu.Lock()
	s.holders = report
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"from":    from,
		"to":      height,
		"tracked": report.TotalTracked,
		"partial": report.Partial,
	}).Info("持有人统计完成")
	return report, nil
}

// estimateHolders 扫描窗口内持有人过少时，按24小时交易笔数估算
func (s *Service) estimateHolders(ctx context.Context, found int) int {
	estimate := MinHolderEstimate
	if snapshot, err := s.feed.Snapshot(ctx); err == nil && snapshot != nil {
		if n := (snapshot.Txns.H24.Buys + snapshot.Txns.H24.Sells) * 4; n > estimate {
			estimate = n
		}
	}
	if found > estimate {
		estimate = found
	}
	return estimate
}

// LastHolders 最近一次持有人统计，未统计过时为nil
func (s *Service) LastHolders() *HoldersReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holders
}

// HolderRank 在最近一次统计中的排名，不在前列时返回0
func (s *Service) HolderRank(wallet string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.holders == nil {
		return 0
	}
	for _, h := range s.holders.Holders {
		if sameAddress(h.Address, wallet) {
			return h.Rank
		}
	}
	return 0
}

// IsNewHolder 最近NewHolderWindow个区块内转入不超过一次视为新持有人
// 扫描不完整且未能排除时返回ErrUnavailable
func (s *Service) IsNewHolder(ctx context.Context, wallet string) (bool, error) {
	wallet, err := validation.NormalizeAddress(wallet)
	if err != nil {
		return false, err
	}
	height, err := s.client.CurrentHeight(ctx)
	if err != nil {
		return false, s.unavailable("new_holder.height", err)
	}
	from := uint64(0)
	if height >= NewHolderWindow {
		from = height - NewHolderWindow + 1
	}
	result, err := s.scanner.ScanForward(ctx, scanner.ForwardRequest{
		Address: s.cfg.Token,
		Topics:  [][]string{{chain.TransferTopic}, nil, {chain.PadAddressTopic(wallet)}},
		From:    from,
		To:      height,
	})
	if err != nil {
		return false, s.unavailable("new_holder.scan", err)
	}
	if len(result.Logs) > 1 {
		return false, nil
	}
	// 有分块失败时可能漏掉更早的转入，不能判定为新持有人
	if result.Partial {
		return false, s.unavailable("new_holder.partial", nil)
	}
	return true, nil
}

// BuyerInfo 为买卖通知补充钱包信息，任一项失败只省略该项
func (s *Service) BuyerInfo(ctx context.Context, swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot) *dispatch.BuyerInfo {
	if !s.cfg.Enrich || swap == nil || swap.Counterparty == "" || sameAddress(swap.Counterparty, models.ZeroAddress) {
		return nil
	}
	log := s.logger.WithField("wallet", swap.Counterparty)
	info := &dispatch.BuyerInfo{Rank: s.HolderRank(swap.Counterparty)}

	if wei, err := s.client.Balance(ctx, swap.Counterparty); err == nil {
		native := models.ToTokenUnits(wei)
		info.NativeBalance = &native
	} else {
		log.Debugf("查询原生余额失败: %v", err)
	}

	if snapshot != nil && snapshot.PriceUSD > 0 {
		if raw, err := chain.TokenBalance(ctx, s.client, s.cfg.Token, swap.Counterparty); err == nil {
			value := models.ToTokenUnits(raw).Mul(decimal.NewFromFloat(snapshot.PriceUSD))
			info.TokenValueUSD = &value
		} else {
			log.Debugf("查询代币余额失败: %v", err)
		}
	}

	if swap.Direction == models.SwapBuy {
		if fresh, err := s.IsNewHolder(ctx, swap.Counterparty); err == nil {
			info.NewHolder = fresh
		}
	}
	return info
}
