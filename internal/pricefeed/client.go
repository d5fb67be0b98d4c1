package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/metrics"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Feed 价格快照来源
type Feed interface {
	Snapshot(ctx context.Context) (*models.PriceSnapshot, error)
}

// Client DexScreener交易对行情客户端
type Client struct {
	baseURL string
	chain   string
	pair    string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient 创建行情客户端
func NewClient(cfg *config.PriceFeedConfig, pair string, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
		logger.Warn("行情接口超时未配置，使用默认值10s")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		chain:   cfg.Chain,
		pair:    strings.ToLower(pair),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// number 兼容字符串和数字两种写法，空值视为0
type number struct {
	decimal.Decimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		n.Decimal = decimal.Zero
		return nil
	}
	return n.Decimal.UnmarshalJSON(b)
}

func (n number) Float() float64 {
	f, _ := n.Decimal.Float64()
	return f
}

type windows struct {
	M5  number `json:"m5"`
	H1  number `json:"h1"`
	H6  number `json:"h6"`
	H24 number `json:"h24"`
}

func (w windows) values() models.WindowValues {
	return models.WindowValues{M5: w.M5.Float(), H1: w.H1.Float(), H6: w.H6.Float(), H24: w.H24.Float()}
}

type txnCount struct {
	Buys  number `json:"buys"`
	Sells number `json:"sells"`
}

func (t txnCount) count() models.TxnCount {
	return models.TxnCount{Buys: int(t.Buys.IntPart()), Sells: int(t.Sells.IntPart())}
}

type pairData struct {
	PriceNative number `json:"priceNative"`
	PriceUSD    number `json:"priceUsd"`
	MarketCap   number `json:"marketCap"`
	FDV         number `json:"fdv"`
	Liquidity   *struct {
		USD   number `json:"usd"`
		Base  number `json:"base"`
		Quote number `json:"quote"`
	} `json:"liquidity"`
	PriceChange windows `json:"priceChange"`
	Volume      windows `json:"volume"`
	Txns        struct {
		M5  txnCount `json:"m5"`
		H1  txnCount `json:"h1"`
		H6  txnCount `json:"h6"`
		H24 txnCount `json:"h24"`
	} `json:"txns"`
}

type pairResponse struct {
	Pair *pairData `json:"pair"`
}

// Snapshot 获取最新价格快照，接口未返回pair时返回nil,nil
func (c *Client) Snapshot(ctx context.Context) (*models.PriceSnapshot, error) {
	url := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.baseURL, c.chain, c.pair)

	snapshot, err := c.fetch(ctx, url)
	if err != nil {
		metrics.PriceFetchFailures.Inc()
		return nil, errors.NewTransientNetworkError("获取行情", err).WithComponent("pricefeed")
	}
	if snapshot == nil {
		c.logger.WithField("pair", c.pair).Debug("行情接口无交易对数据")
	}
	return snapshot, nil
}

func (c *Client) fetch(ctx context.Context, url string) (*models.PriceSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("状态码异常: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var parsed pairResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if parsed.Pair == nil {
		return nil, nil
	}
	return parsed.Pair.snapshot(), nil
}

func (p *pairData) snapshot() *models.PriceSnapshot {
	s := &models.PriceSnapshot{
		PriceUSD:    p.PriceUSD.Float(),
		PriceNative: p.PriceNative.Float(),
		MarketCap:   p.MarketCap.Float(),
		FDV:         p.FDV.Float(),
		PriceChange: p.PriceChange.values(),
		Volume:      p.Volume.values(),
		Txns: models.WindowTxns{
			M5:  p.Txns.M5.count(),
			H1:  p.Txns.H1.count(),
			H6:  p.Txns.H6.count(),
			H24: p.Txns.H24.count(),
		},
	}
	if p.Liquidity != nil {
		s.LiquidityUSD = p.Liquidity.USD.Float()
		s.LiquidityBase = p.Liquidity.Base.Float()
		s.LiquidityQuote = p.Liquidity.Quote.Float()
	}
	return s
}
