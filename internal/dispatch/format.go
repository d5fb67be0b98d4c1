package dispatch

import (
	"fmt"
	"strings"
	"time"

	"tokenwatch/internal/alerts"
	"tokenwatch/internal/config"
	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
)

// BuyerInfo 买卖方附加信息，尽力获取，字段缺失时不展示
type BuyerInfo struct {
	NativeBalance *decimal.Decimal
	TokenValueUSD *decimal.Decimal
	NewHolder     bool
	Rank          int
}

// tier 按金额分档的标题
type tier struct {
	min   float64
	emoji string
	title string
}

var buyTiers = []tier{
	{5000, "🐋🐋🐋", "MEGA WHALE"},
	{2000, "🐋🐋", "WHALE BUY"},
	{1000, "🐋", "BIG BUY"},
	{0, "💰", "NEW BUY"},
}

var sellTiers = []tier{
	{5000, "🔴🔴🔴", "MEGA DUMP"},
	{2000, "🔴🔴", "BIG SELL"},
	{1000, "🔴", "SELL"},
	{0, "📉", "SELL"},
}

func pickTier(tiers []tier, usd float64) tier {
	for _, t := range tiers {
		if usd >= t.min {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// FormatUSD 金额缩写为 $1.23B / $4.56M / $7.89K / $0.12
func FormatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.2fK", v/1e3)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}

func trend(v float64) string {
	if v >= 0 {
		return "🟢"
	}
	return "🔴"
}

// Formatter 将分类结果和提醒格式化为通知
type Formatter struct {
	links *config.LinksConfig
	now   func() time.Time
}

// NewFormatter 创建格式化器
func NewFormatter(links *config.LinksConfig) *Formatter {
	if links == nil {
		links = &config.LinksConfig{TokenSymbol: "TOKEN"}
	}
	return &Formatter{links: links, now: time.Now}
}

func (f *Formatter) addressURL(addr string) string {
	return strings.TrimRight(f.links.ExplorerURL, "/") + "/address/" + addr
}

func (f *Formatter) txURL(tx string) string {
	return strings.TrimRight(f.links.ExplorerURL, "/") + "/tx/" + tx
}

func (f *Formatter) footer() string {
	line := fmt.Sprintf("🖤 *$%s*", f.links.TokenSymbol)
	if f.links.Tagline != "" {
		line += fmt.Sprintf(" - _%s_", f.links.Tagline)
	}
	return line
}

// hasCounterparty 地址过短视为未知
func hasCounterparty(addr string) bool {
	return len(addr) >= 10
}

// Swap 格式化买入或卖出通知，Destination由调用方填写
func (f *Formatter) Swap(swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot, info *BuyerInfo) *models.AlertPayload {
	if swap.Direction == models.SwapSell {
		return f.sell(swap, snapshot, info)
	}
	return f.buy(swap, snapshot, info)
}

func (f *Formatter) buy(swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot, info *BuyerInfo) *models.AlertPayload {
	usd, _ := swap.USDAmount.Float64()
	t := pickTier(buyTiers, usd)

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s", t.emoji, t.title, t.emoji)
	if info != nil && info.NewHolder {
		b.WriteString("\n🆕 *NEW HOLDER!*")
	}
	fmt.Fprintf(&b, "\n\n💵 *Buy:* ~%s", FormatUSD(usd))

	if hasCounterparty(swap.Counterparty) {
		fmt.Fprintf(&b, "\n👤 *Buyer:* `%s`\n🔗 [View Wallet](%s)", swap.Counterparty, f.addressURL(swap.Counterparty))
		if info != nil && info.NativeBalance != nil && info.TokenValueUSD != nil {
			v, _ := info.TokenValueUSD.Float64()
			fmt.Fprintf(&b, "\n💎 *Wallet:* %s MON | %s $%s", info.NativeBalance.StringFixed(2), FormatUSD(v), f.links.TokenSymbol)
		}
		if info != nil && info.Rank > 0 {
			fmt.Fprintf(&b, "\n🏆 *Rank:* #%d holder", info.Rank)
		}
	}
	if swap.TxHash != "" {
		fmt.Fprintf(&b, "\n🔗 [View TX](%s)", f.txURL(swap.TxHash))
	}
	fmt.Fprintf(&b, "\n💰 *Price:* $%.10f", swap.PriceUSD)

	mcap, liquidity, volume := "N/A", "N/A", "N/A"
	var change1h, change24h float64
	var txns models.WindowTxns
	ratio := 0.0
	if snapshot != nil {
		if snapshot.MarketCap > 0 {
			mcap = FormatUSD(snapshot.MarketCap)
		}
		if snapshot.LiquidityUSD > 0 {
			liquidity = FormatUSD(snapshot.LiquidityUSD)
		}
		volume = FormatUSD(snapshot.Volume.H24)
		change1h = snapshot.PriceChange.H1
		change24h = snapshot.PriceChange.H24
		txns = snapshot.Txns
		ratio = snapshot.BuySellRatio()
	}

	b.WriteString("\n\n*━━━ Market Stats ━━━*")
	fmt.Fprintf(&b, "\n📊 *MCap:* %s\n💧 *Liquidity:* %s\n📈 *24h Vol:* %s", mcap, liquidity, volume)

	b.WriteString("\n\n*━━━ Price Action ━━━*")
	fmt.Fprintf(&b, "\n%s *1h:* %+.2f%%\n%s *24h:* %+.2f%%", trend(change1h), change1h, trend(change24h), change24h)

	b.WriteString("\n\n*━━━ Activity ━━━*")
	fmt.Fprintf(&b, "\n🟢 *Buys 1h:* %d | 🔴 *Sells:* %d", txns.H1.Buys, txns.H1.Sells)
	fmt.Fprintf(&b, "\n%s *Ratio:* %.1fx", trend(ratio-1), ratio)
	fmt.Fprintf(&b, "\n🔥 *24h Buys:* %d", txns.H24.Buys)

	b.WriteString("\n\n")
	b.WriteString(f.footer())

	return &models.AlertPayload{
		Kind:      models.PayloadBuy,
		Text:      b.String(),
		Media:     f.links.BuyMedia,
		Links:     f.swapLinks(swap.Counterparty, "👤 Buyer", "💰 Buy"),
		TxHash:    swap.TxHash,
		CreatedAt: f.now(),
	}
}

func (f *Formatter) sell(swap *models.ClassifiedSwap, snapshot *models.PriceSnapshot, info *BuyerInfo) *models.AlertPayload {
	usd, _ := swap.USDAmount.Float64()
	t := pickTier(sellTiers, usd)

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s", t.emoji, t.title, t.emoji)
	fmt.Fprintf(&b, "\n\n💵 *Sold:* ~%s", FormatUSD(usd))

	if hasCounterparty(swap.Counterparty) {
		fmt.Fprintf(&b, "\n👤 *Seller:* `%s`\n🔗 [View Wallet](%s)", swap.Counterparty, f.addressURL(swap.Counterparty))
		if info != nil && info.TokenValueUSD != nil {
			v, _ := info.TokenValueUSD.Float64()
			fmt.Fprintf(&b, "\n💎 *Remaining:* %s $%s", FormatUSD(v), f.links.TokenSymbol)
		}
	}
	if swap.TxHash != "" {
		fmt.Fprintf(&b, "\n🔗 [View TX](%s)", f.txURL(swap.TxHash))
	}
	fmt.Fprintf(&b, "\n💰 *Price:* $%.10f", swap.PriceUSD)

	mcap, liquidity := "N/A", "N/A"
	if snapshot != nil {
		if snapshot.MarketCap > 0 {
			mcap = FormatUSD(snapshot.MarketCap)
		}
		if snapshot.LiquidityUSD > 0 {
			liquidity = FormatUSD(snapshot.LiquidityUSD)
		}
	}
	fmt.Fprintf(&b, "\n\n📊 *MCap:* %s\n💧 *Liquidity:* %s", mcap, liquidity)

	b.WriteString("\n\n")
	b.WriteString(f.footer())

	return &models.AlertPayload{
		Kind:      models.PayloadSell,
		Text:      b.String(),
		Media:     f.links.SellMedia,
		Links:     f.swapLinks(swap.Counterparty, "👤 Seller", "💰 Buy Dip"),
		TxHash:    swap.TxHash,
		CreatedAt: f.now(),
	}
}

func (f *Formatter) swapLinks(counterparty, walletLabel, buyLabel string) []models.ActionLink {
	var links []models.ActionLink
	if hasCounterparty(counterparty) {
		links = append(links, models.ActionLink{Label: walletLabel, URL: f.addressURL(counterparty)})
	}
	if f.links.ChartURL != "" {
		links = append(links, models.ActionLink{Label: "📊 Chart", URL: f.links.ChartURL})
	}
	if f.links.BuyURL != "" {
		links = append(links, models.ActionLink{Label: buyLabel, URL: f.links.BuyURL})
	}
	return links
}

// PriceAlert 格式化价格提醒通知，发送给提醒所有者
func (f *Formatter) PriceAlert(t alerts.TriggeredAlert) *models.AlertPayload {
	emoji, verb := "📈", "rose above"
	if t.Alert.Direction == models.DirectionBelow {
		emoji, verb = "📉", "dropped below"
	}

	var b strings.Builder
	b.WriteString("🚨 *Price Alert Triggered!* 🚨\n\n")
	fmt.Fprintf(&b, "%s Price %s your target!\n\n", emoji, verb)
	fmt.Fprintf(&b, "🎯 *Target:* $%.10f\n", t.Alert.TargetPrice)
	fmt.Fprintf(&b, "💵 *Current:* $%.10f", t.Current)
	if t.Alert.Recurring {
		b.WriteString("\n🔄 _Recurring - will alert again when price crosses back_")
	}
	if f.links.Tagline != "" {
		fmt.Fprintf(&b, "\n\n_%s_", f.links.Tagline)
	}

	return &models.AlertPayload{
		Destination: t.OwnerID,
		Kind:        models.PayloadPriceAlert,
		Text:        b.String(),
		CreatedAt:   f.now(),
	}
}
