package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tokenwatch/internal/errors"
	"tokenwatch/internal/logging"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "TOKENWATCH"

// Config 主配置
type Config struct {
	Chain     *ChainConfig       `mapstructure:"chain"`
	PriceFeed *PriceFeedConfig   `mapstructure:"pricefeed"`
	Monitor   *MonitorConfig     `mapstructure:"monitor"`
	Store     *StoreConfig       `mapstructure:"store"`
	Output    *OutputConfig      `mapstructure:"output"`
	API       *APIConfig         `mapstructure:"api"`
	Logging   *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链与代币配置
type ChainConfig struct {
	Nodes            []*NodeConfig `mapstructure:"nodes"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	TokenAddress     string        `mapstructure:"token_address"`
	PairAddress      string        `mapstructure:"pair_address"`
	BurnAddress      string        `mapstructure:"burn_address"`
	GenesisBlock     uint64        `mapstructure:"genesis_block"`
	ChunkSize        uint64        `mapstructure:"chunk_size"`
	TailWindow       uint64        `mapstructure:"tail_window"`
	WalletScanBudget uint64        `mapstructure:"wallet_scan_budget"`
	HolderScanBlocks uint64        `mapstructure:"holder_scan_blocks"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
}

// PriceFeedConfig 价格源配置
type PriceFeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Chain   string        `mapstructure:"chain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitorConfig 监控循环配置
type MonitorConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	SeenCapacity  int           `mapstructure:"seen_capacity"`
	Enrich        bool          `mapstructure:"enrich"`
}

// StoreConfig 本地存储配置
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// LinksConfig 通知中的外部链接
type LinksConfig struct {
	ExplorerURL string `mapstructure:"explorer_url"`
	ChartURL    string `mapstructure:"chart_url"`
	BuyURL      string `mapstructure:"buy_url"`
	BuyMedia    string `mapstructure:"buy_media"`
	SellMedia   string `mapstructure:"sell_media"`
	TokenSymbol string `mapstructure:"token_symbol"`
	Tagline     string `mapstructure:"tagline"`
}

// OutputConfig 通知输出配置
type OutputConfig struct {
	Sinks     []string     `mapstructure:"sinks"`
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
	Links     *LinksConfig `mapstructure:"links"`
}

// APIConfig HTTP接口配置
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoadConfig 加载配置（.env -> YAML -> 环境变量 -> 数据库覆盖）
func LoadConfig(configPath string) (*Config, error) {
	// .env 文件可选
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("加载.env失败: %v", err)
	}

	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	dbDSN := os.Getenv(EnvPrefix + "_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.Apply(config); err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库覆盖配置")
	}

	return config, nil
}

// LoadConfigFromFile 从文件和环境变量加载配置，configPath为空时只使用默认值和环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 单节点环境变量最常用，单独处理
	if url := v.GetString("rpc_url"); url != "" {
		config.Chain.Nodes = []*NodeConfig{{Name: "env", URL: url, Priority: 1}}
	}

	return &config, nil
}

// setDefaults 注册默认值，AutomaticEnv只对已知的key生效
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("chain.nodes", []map[string]interface{}{
		{"name": d.Chain.Nodes[0].Name, "url": d.Chain.Nodes[0].URL, "priority": d.Chain.Nodes[0].Priority},
	})
	v.SetDefault("chain.call_timeout", d.Chain.CallTimeout)
	v.SetDefault("chain.token_address", d.Chain.TokenAddress)
	v.SetDefault("chain.pair_address", d.Chain.PairAddress)
	v.SetDefault("chain.burn_address", d.Chain.BurnAddress)
	v.SetDefault("chain.genesis_block", d.Chain.GenesisBlock)
	v.SetDefault("chain.chunk_size", d.Chain.ChunkSize)
	v.SetDefault("chain.tail_window", d.Chain.TailWindow)
	v.SetDefault("chain.wallet_scan_budget", d.Chain.WalletScanBudget)
	v.SetDefault("chain.holder_scan_blocks", d.Chain.HolderScanBlocks)

	v.SetDefault("pricefeed.base_url", d.PriceFeed.BaseURL)
	v.SetDefault("pricefeed.chain", d.PriceFeed.Chain)
	v.SetDefault("pricefeed.timeout", d.PriceFeed.Timeout)

	v.SetDefault("monitor.tick_interval", d.Monitor.TickInterval)
	v.SetDefault("monitor.alert_cooldown", d.Monitor.AlertCooldown)
	v.SetDefault("monitor.seen_capacity", d.Monitor.SeenCapacity)
	v.SetDefault("monitor.enrich", d.Monitor.Enrich)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("output.sinks", d.Output.Sinks)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topics", d.Output.Kafka.Topics)
	v.SetDefault("output.links.explorer_url", d.Output.Links.ExplorerURL)
	v.SetDefault("output.links.chart_url", d.Output.Links.ChartURL)
	v.SetDefault("output.links.buy_url", d.Output.Links.BuyURL)
	v.SetDefault("output.links.buy_media", d.Output.Links.BuyMedia)
	v.SetDefault("output.links.sell_media", d.Output.Links.SellMedia)
	v.SetDefault("output.links.token_symbol", d.Output.Links.TokenSymbol)
	v.SetDefault("output.links.tagline", d.Output.Links.Tagline)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.port", d.API.Port)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("rpc_url", "")
}

// Validate 校验启动必需的配置，只在启动时调用
func (c *Config) Validate() error {
	if c.Chain == nil || len(c.Chain.Nodes) == 0 {
		return errors.NewConfigurationError("至少需要配置一个RPC节点")
	}
	for i, node := range c.Chain.Nodes {
		if node == nil || strings.TrimSpace(node.URL) == "" {
			return errors.NewConfigurationError("RPC节点地址为空").WithContext("index", i)
		}
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return errors.NewConfigurationError("代币地址缺失或格式错误").
			WithContext("token_address", c.Chain.TokenAddress)
	}
	if !common.IsHexAddress(c.Chain.PairAddress) {
		return errors.NewConfigurationError("交易对地址缺失或格式错误").
			WithContext("pair_address", c.Chain.PairAddress)
	}
	if c.Chain.ChunkSize == 0 {
		return errors.NewConfigurationError("chunk_size必须大于0")
	}
	if c.Monitor == nil || c.Monitor.TickInterval <= 0 {
		return errors.NewConfigurationError("tick_interval必须大于0")
	}
	if c.PriceFeed == nil || c.PriceFeed.BaseURL == "" {
		return errors.NewConfigurationError("缺少价格源地址")
	}
	if c.Output == nil {
		return nil
	}
	for _, sink := range c.Output.Sinks {
		switch sink {
		case "log", "file":
		case "kafka":
			if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
				return errors.NewConfigurationError("kafka输出需要配置brokers")
			}
		default:
			return errors.NewConfigurationError("不支持的输出类型").WithContext("sink", sink)
		}
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	const (
		token = "0x81A224F8A62f52BdE942dBF23A56df77A10b7777"
		pair  = "0x714a2694c8d4f0b1bfba0e5b76240e439df2182d"
	)

	return &Config{
		Chain: &ChainConfig{
			Nodes: []*NodeConfig{
				{
					Name:     "monad",
					URL:      "https://rpc.monad.xyz",
					Priority: 1,
				},
			},
			CallTimeout:      10 * time.Second,
			TokenAddress:     token,
			PairAddress:      pair,
			BurnAddress:      "0x000000000000000000000000000000000000dEaD",
			GenesisBlock:     37742006,
			ChunkSize:        100,
			TailWindow:       30,
			WalletScanBudget: 50000,
			HolderScanBlocks: 2000,
		},
		PriceFeed: &PriceFeedConfig{
			BaseURL: "https://api.dexscreener.com",
			Chain:   "monad",
			Timeout: 10 * time.Second,
		},
		Monitor: &MonitorConfig{
			TickInterval:  5 * time.Second,
			AlertCooldown: 300 * time.Second,
			SeenCapacity:  1000,
			Enrich:        true,
		},
		Store: &StoreConfig{
			Path: "./data/tokenwatch.db",
		},
		Output: &OutputConfig{
			Sinks:     []string{"log"},
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"buy":         "tokenwatch_buy_alerts",
					"sell":        "tokenwatch_sell_alerts",
					"price_alert": "tokenwatch_price_alerts",
				},
			},
			Links: &LinksConfig{
				ExplorerURL: "https://monadexplorer.com",
				ChartURL:    "https://dexscreener.com/monad/" + pair,
				BuyURL:      "https://app.uniswap.org/swap?chain=monad&outputCurrency=" + token,
				BuyMedia:    "emo_video_640x360.gif",
				SellMedia:   "sell_video.gif",
				TokenSymbol: "EMO",
				Tagline:     "i lost it all on day 1",
			},
		},
		API: &APIConfig{
			Enabled: true,
			Port:    8080,
		},
		Logging: logging.DefaultLogConfig(),
	}
}
