package models

// WindowValues 各时间窗口的数值
type WindowValues struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// TxnCount 买卖笔数
type TxnCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// WindowTxns 各时间窗口的买卖笔数
type WindowTxns struct {
	M5  TxnCount `json:"m5"`
	H1  TxnCount `json:"h1"`
	H6  TxnCount `json:"h6"`
	H24 TxnCount `json:"h24"`
}

// PriceSnapshot 价格快照，每次使用时重新获取，不持久化
type PriceSnapshot struct {
	PriceUSD       float64      `json:"price_usd"`
	PriceNative    float64      `json:"price_native"`
	MarketCap      float64      `json:"market_cap"`
	FDV            float64      `json:"fdv"`
	LiquidityUSD   float64      `json:"liquidity_usd"`
	LiquidityBase  float64      `json:"liquidity_base"`
	LiquidityQuote float64      `json:"liquidity_quote"`
	PriceChange    WindowValues `json:"price_change"`
	Volume         WindowValues `json:"volume"`
	Txns           WindowTxns   `json:"txns"`
}

// BuySellRatio 1小时买卖比
func (p *PriceSnapshot) BuySellRatio() float64 {
	if p.Txns.H1.Sells > 0 {
		return float64(p.Txns.H1.Buys) / float64(p.Txns.H1.Sells)
	}
	return float64(p.Txns.H1.Buys)
}
