package query

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/scanner"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable 拿不到数据时返回，不返回不完整的结果
var ErrUnavailable = errors.ErrUnavailable

const (
	// DefaultHolderScanBlocks 持有人统计回看的区块数
	DefaultHolderScanBlocks = 2000
	// NewHolderWindow 判断新持有人时回看的区块数
	NewHolderWindow = 1000
	// TopHolders 持有人排行数量
	TopHolders = 10
	// MinHolderEstimate 持有人估算下限
	MinHolderEstimate = 100
)

// PriceFeed 行情快照来源
type PriceFeed interface {
	Snapshot(ctx context.Context) (*models.PriceSnapshot, error)
}

// WalletScanner 钱包缓存
type WalletScanner interface {
	Get(wallet string) (*models.WalletScanResult, error)
	Scan(ctx context.Context, wallet string) (*models.WalletScanResult, error)
}

// TrackedLister 关注钱包列表
type TrackedLister interface {
	List(owner int64) ([]models.TrackedWallet, error)
}

// RangeScanner 分块扫描
type RangeScanner interface {
	ScanBackward(ctx context.Context, req scanner.BackwardRequest) (*scanner.BackwardResult, error)
	ScanForward(ctx context.Context, req scanner.ForwardRequest) (*scanner.ForwardResult, error)
}

// Config 查询参数
type Config struct {
	Token            string
	BurnAddress      string
	Genesis          uint64
	HolderScanBlocks uint64
	// Enrich 是否为买卖通知补充钱包信息
	Enrich bool
}

// Service 按需查询，与监控循环并发执行，只通过存储接口共享状态
type Service struct {
	client  chain.Client
	scanner RangeScanner
	wallets WalletScanner
	tracked TrackedLister
	feed    PriceFeed
	cfg     Config
	logger  *logrus.Logger
	now     func() time.Time

	mu      sync.RWMutex
	holders *HoldersReport
}

// NewService 创建查询服务
func NewService(client chain.Client, sc RangeScanner, wallets WalletScanner, feed PriceFeed, cfg Config, logger *logrus.Logger) *Service {
	if cfg.HolderScanBlocks == 0 {
		cfg.HolderScanBlocks = DefaultHolderScanBlocks
	}
	return &Service{
		client:  client,
		scanner: sc,
		wallets: wallets,
		feed:    feed,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithTracked 设置关注钱包列表来源
func (s *Service) WithTracked(t TrackedLister) *Service {
	s.tracked = t
	return s
}

// unavailable 记录原因并返回ErrUnavailable
func (s *Service) unavailable(op string, err error) error {
	entry := s.logger.WithField("op", op)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("查询数据不可用")
	return fmt.Errorf("%s: %w", op, ErrUnavailable)
}

// Price 当前行情快照
func (s *Service) Price(ctx context.Context) (*models.PriceSnapshot, error) {
	snapshot, err := s.feed.Snapshot(ctx)
	if err != nil || snapshot == nil {
		return nil, s.unavailable("price", err)
	}
	return snapshot, nil
}

// GasReport 当前gas价格
type GasReport struct {
	Wei  string          `json:"wei"`
	Gwei decimal.Decimal `json:"gwei"`
}

// Gas 查询gas价格
func (s *Service) Gas(ctx context.Context) (*GasReport, error) {
	wei, err := s.client.GasPrice(ctx)
	if err != nil {
		return nil, s.unavailable("gas", err)
	}
	return &GasReport{
		Wei:  wei.String(),
		Gwei: decimal.NewFromBigInt(wei, -9),
	}, nil
}

// BurnReport 销毁统计
type BurnReport struct {
	Addresses      []string        `json:"addresses"`
	Burned         decimal.Decimal `json:"burned"`
	PriceUSD       float64         `json:"price_usd"`
	ValueUSD       decimal.Decimal `json:"value_usd"`
	PriceAvailable bool            `json:"price_available"`
}

// Burned 零地址和销毁地址持有的代币
func (s *Service) Burned(ctx context.Context) (*BurnReport, error) {
	addrs := []string{models.ZeroAddress}
	if s.cfg.BurnAddress != "" && !sameAddress(s.cfg.BurnAddress, models.ZeroAddress) {
		addrs = append(addrs, s.cfg.BurnAddress)
	}

	total := new(big.Int)
	for _, addr := range addrs {
		bal, err := chain.TokenBalance(ctx, s.client, s.cfg.Token, addr)
		if err != nil {
			return nil, s.unavailable("burn", err)
		}
		total.Add(total, bal)
	}

	report := &BurnReport{
		Addresses: addrs,
		Burned:    models.ToTokenUnits(total),
		ValueUSD:  decimal.Zero,
	}
	if snapshot, err := s.feed.Snapshot(ctx); err == nil && snapshot != nil {
		report.PriceUSD = snapshot.PriceUSD
		report.PriceAvailable = true
		report.ValueUSD = report.Burned.Mul(decimal.NewFromFloat(snapshot.PriceUSD))
	}
	return report, nil
}
