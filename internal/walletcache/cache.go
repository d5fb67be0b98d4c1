package walletcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/metrics"
	"tokenwatch/internal/scanner"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// FreshnessWindow 缓存结果在此时长内直接返回
	FreshnessWindow = 5 * time.Minute
	// DefaultBudget 单次钱包扫描的区块预算
	DefaultBudget = 50000
	// MaxKeptTxns 每个方向保留的最近转账数
	MaxKeptTxns = 100
)

// Store 钱包扫描结果的持久化接口
type Store interface {
	Get(wallet string) (*models.WalletScanResult, error)
	Put(wallet string, result *models.WalletScanResult) error
}

// Backward 向后分块扫描能力
type Backward interface {
	ScanBackward(ctx context.Context, req scanner.BackwardRequest) (*scanner.BackwardResult, error)
}

// Config 钱包缓存参数
type Config struct {
	Token   string
	Genesis uint64
	Budget  uint64
}

// Cache 钱包转账历史缓存
type Cache struct {
	client  chain.Client
	scanner Backward
	store   Store
	cfg     Config
	logger  *logrus.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*walletLock
}

// walletLock 引用计数归零时从map中删除
type walletLock struct {
	mu   sync.Mutex
	refs int
}

// New 创建钱包缓存
func New(client chain.Client, sc Backward, store Store, cfg Config, logger *logrus.Logger) *Cache {
	if cfg.Budget == 0 {
		cfg.Budget = DefaultBudget
	}
	return &Cache{
		client:  client,
		scanner: sc,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*walletLock),
	}
}

// Get 读取缓存结果，不存在时返回nil
func (c *Cache) Get(wallet string) (*models.WalletScanResult, error) {
	return c.store.Get(strings.ToLower(wallet))
}

// lockWallet 同一钱包的扫描串行执行，返回解锁函数
func (c *Cache) lockWallet(wallet string) func() {
	c.mu.Lock()
	l, ok := c.locks[wallet]
	if !ok {
		l = &walletLock{}
		c.locks[wallet] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, wallet)
		}
		c.mu.Unlock()
	}
}


// IsFresh 是否可以不重新扫描直接返回
//
// 空结果（没有任何转入）无论多新都要重扫，否则首次收到代币的钱包会一直被当成新鲜的空结果。
func IsFresh(result *models.WalletScanResult, now time.Time) bool {
	if result.IsEmpty() || result.BuyCount == 0 {
		return false
	}
	return result.Age(now) < FreshnessWindow
}

// Scan 返回钱包的扫描结果，必要时重新扫描并在返回前持久化
//
// 无法获取当前高度时返回缓存值（可能为nil）和TransientNetworkError。
func (c *Cache) Scan(ctx context.Context, wallet string) (*models.WalletScanResult, error) {
	wallet = strings.ToLower(wallet)
	unlock := c.lockWallet(wallet)
	defer unlock()

	log := c.logger.WithField("wallet", wallet)

	cached, err := c.store.Get(wallet)
	if err != nil {
		log.Warnf("读取钱包缓存失败: %v", err)
		cached = nil
	}

	if IsFresh(cached, c.now()) {
		metrics.WalletScans.WithLabelValues("cached").Inc()
		return cached, nil
	}

	height, err := c.client.CurrentHeight(ctx)
	if err != nil {
		metrics.WalletScans.WithLabelValues("failed").Inc()
		return cached, err
	}

	walletTopic := chain.PadAddressTopic(wallet)
	inbound, err := c.scanner.ScanBackward(ctx, c.request(height, [][]string{{chain.TransferTopic}, nil, {walletTopic}}))
	if err != nil {
		metrics.WalletScans.WithLabelValues("failed").Inc()
		return cached, err
	}
	outbound, err := c.scanner.ScanBackward(ctx, c.request(height, [][]string{{chain.TransferTopic}, {walletTopic}, nil}))
	if err != nil {
		metrics.WalletScans.WithLabelValues("failed").Inc()
		return cached, err
	}

	result := &models.WalletScanResult{
		LastScannedBlock: height,
		LastUpdated:      c.now(),
		Partial:          inbound.Partial || outbound.Partial,
	}
	result.InTxns, result.TotalIn, result.BuyCount = summarize(inbound.Logs, log)
	result.OutTxns, result.TotalOut, result.SellCount = summarize(outbound.Logs, log)

	if err := c.store.Put(wallet, result); err != nil {
		log.Errorf("保存钱包缓存失败: %v", err)
		return result, err
	}

	metrics.WalletScans.WithLabelValues("scanned").Inc()
	log.WithFields(logrus.Fields{
		"buys":    result.BuyCount,
		"sells":   result.SellCount,
		"partial": result.Partial,
	}).Info("钱包扫描完成")
	return result, nil
}

func (c *Cache) request(height uint64, topics [][]string) scanner.BackwardRequest {
	return scanner.BackwardRequest{
		Address: c.cfg.Token,
		Topics:  topics,
		Floor:   c.cfg.Genesis,
		Budget:  c.cfg.Budget,
		Height:  height,
	}
}

// summarize 汇总整个区间的总量和笔数，列表只保留最近的MaxKeptTxns笔
func summarize(logs []models.LogRecord, log *logrus.Entry) ([]models.TransferSummary, decimal.Decimal, int) {
	total := decimal.Zero
	txns := make([]models.TransferSummary, 0, len(logs))
	for _, l := range logs {
		ev, err := chain.DecodeTransfer(l)
		if err != nil {
			metrics.DecodeFailures.Inc()
			log.Debugf("跳过无法解码的转账: %v", err)
			continue
		}
		amount := ev.TokenAmount()
		total = total.Add(amount)
		txns = append(txns, models.TransferSummary{
			BlockNumber: ev.BlockNumber,
			Amount:      amount,
			TxHash:      ev.TxHash,
		})
	}

	count := len(txns)
	if len(txns) > MaxKeptTxns {
		txns = txns[len(txns)-MaxKeptTxns:]
	}
	return txns, total, count
}
