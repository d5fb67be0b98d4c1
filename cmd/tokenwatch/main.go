package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tokenwatch/internal/alerts"
	"tokenwatch/internal/api"
	"tokenwatch/internal/chain"
	"tokenwatch/internal/config"
	"tokenwatch/internal/dispatch"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/pricefeed"
	"tokenwatch/internal/query"
	"tokenwatch/internal/retry"
	"tokenwatch/internal/scanner"
	"tokenwatch/internal/shutdown"
	"tokenwatch/internal/store"
	"tokenwatch/internal/swap"
	"tokenwatch/internal/validation"
	"tokenwatch/internal/walletcache"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// holderRefreshInterval 监控模式下刷新持有人排行的间隔
const holderRefreshInterval = 15 * time.Minute

var (
	configFile string
	verbose    bool
	noAPI      bool
	apiURL     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tokenwatch",
		Short: "单代币链上活动监控",
		Long:  `跟踪单个代币交易对的买卖、价格提醒和持有人，并将通知分发到日志、文件或Kafka`,
		RunE:  runMonitor,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "查询命令使用的监控API地址，默认按配置端口访问本机")
	rootCmd.Flags().BoolVar(&noAPI, "no-api", false, "不启动HTTP接口")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "pnl <wallet>",
			Short: "查询钱包持仓与买卖汇总",
			Args:  cobra.ExactArgs(1),
			RunE:  runPnL,
		},
		&cobra.Command{
			Use:   "holders",
			Short: "统计最近区块内的持有人排行",
			Args:  cobra.NoArgs,
			RunE:  runHolders,
		},
		&cobra.Command{
			Use:   "tracked <owner>",
			Short: "查看订阅者关注的钱包（只读缓存，不扫描）",
			Args:  cobra.ExactArgs(1),
			RunE:  runTracked,
		},
		&cobra.Command{
			Use:   "alerts <owner>",
			Short: "查看订阅者的价格提醒",
			Args:  cobra.ExactArgs(1),
			RunE:  runAlerts,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// app 各命令共用的组件
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *store.DB

	tracked *store.TrackedStore
	client  *chain.RPCClient
	scanner *scanner.Scanner
	feed    *pricefeed.Client
	query   *query.Service
}

// bootstrap 加载并校验配置，创建日志器
func bootstrap() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("配置无效: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志器失败: %w", err)
	}
	return cfg, logger, nil
}

// newApp 打开本地存储，withChain为true时连接节点并创建查询服务
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, withChain bool) (*app, error) {
	db, err := openStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db, tracked: store.NewTrackedStore(db)}
	if !withChain {
		return a, nil
	}

	client, err := chain.NewRPCClient(ctx, cfg.Chain.Nodes, cfg.Chain.CallTimeout, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	a.client = client

	opts := scanner.DefaultOptions()
	if cfg.Chain.ChunkSize > 0 {
		opts.ChunkSize = cfg.Chain.ChunkSize
	}
	a.scanner = scanner.New(client, opts, logger)
	a.feed = pricefeed.NewClient(cfg.PriceFeed, cfg.Chain.PairAddress, logger)

	wallets := walletcache.New(client, a.scanner, store.NewWalletStore(db), walletcache.Config{
		Token:   cfg.Chain.TokenAddress,
		Genesis: cfg.Chain.GenesisBlock,
		Budget:  cfg.Chain.WalletScanBudget,
	}, logger)

	a.query = query.NewService(client, a.scanner, wallets, a.feed, query.Config{
		Token:            cfg.Chain.TokenAddress,
		BurnAddress:      cfg.Chain.BurnAddress,
		Genesis:          cfg.Chain.GenesisBlock,
		HolderScanBlocks: cfg.Chain.HolderScanBlocks,
		Enrich:           cfg.Monitor.Enrich,
	}, logger).WithTracked(a.tracked)
	return a, nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warnf("关闭本地存储失败: %v", err)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := newApp(bootCtx, cfg, logger, true)
	cancel()
	if err != nil {
		return err
	}

	handler := errors.NewErrorHandler(logger)

	sink, err := dispatch.NewSinks(cfg.Output, logger)
	if err != nil {
		a.close()
		return fmt.Errorf("创建输出通道失败: %w", err)
	}

	chats := store.NewChatSettingsStore(a.db)
	engine := alerts.NewEngine(store.NewAlertStore(a.db), cfg.Monitor.AlertCooldown, logger)
	dispatcher := dispatch.NewDispatcher(sink, chats, dispatch.NewFormatter(cfg.Output.Links), a.query, handler, logger)

	resolver := swap.NewPositionResolver(a.client, cfg.Chain.PairAddress, cfg.Chain.TokenAddress, logger).
		WithRetrier(retry.NewRetrier(retry.NetworkRetryConfig, logger))
	classifier := swap.NewClassifier(resolver, logger).WithValidator(validation.NewValidator(logger))

	mon := monitor.New(monitor.Config{
		Pair:         cfg.Chain.PairAddress,
		TickInterval: cfg.Monitor.TickInterval,
		TailWindow:   cfg.Chain.TailWindow,
		SeenCapacity: cfg.Monitor.SeenCapacity,
	}, monitor.Deps{
		Feed:       a.feed,
		Alerts:     engine,
		Tail:       a.scanner,
		Classifier: classifier,
		Dispatcher: dispatcher,
		Meta:       a.db,
		Handler:    handler,
	}, logger)

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.Start()
	ctx := gs.Context()

	if cfg.API.Enabled && !noAPI {
		server := api.NewServer(api.Deps{
			Monitor: mon,
			Query:   a.query,
			Alerts:  engine,
			Chats:   dispatcher,
			Tracked: a.tracked,
			Handler: handler,
		}, logger, cfg.API.Port)
		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("API服务器异常退出: %v", err)
				gs.Shutdown()
			}
		}()
		gs.Register("api", shutdown.OrderStopAPI, server.Stop)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("监控循环异常退出: %v", err)
		}
	}()
	gs.Register("monitor", shutdown.OrderStopMonitor, func(sctx context.Context) error {
		select {
		case <-monitorDone:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})

	if cfg.Monitor.Enrich {
		go refreshHolders(ctx, a.query, logger)
	}

	gs.Register("sinks", shutdown.OrderFlushSinks, func(context.Context) error { return sink.Close() })
	gs.Register("chain", shutdown.OrderCloseChain, func(context.Context) error {
		a.client.Close()
		return nil
	})
	gs.Register("store", shutdown.OrderCloseStore, func(context.Context) error { return a.db.Close() })

	logger.WithFields(logrus.Fields{
		"token": cfg.Chain.TokenAddress,
		"pair":  cfg.Chain.PairAddress,
		"node":  a.client.ActiveNode(),
	}).Info("tokenwatch已启动")

	if errs := gs.Wait(); len(errs) > 0 {
		return fmt.Errorf("停机过程中发生%d个错误: %w", len(errs), errs[0])
	}
	return nil
}

// refreshHolders 定期刷新持有人排行，供买入通知查询排名
func refreshHolders(ctx context.Context, q *query.Service, logger *logrus.Logger) {
	refresh := func() {
		if _, err := q.Holders(ctx); err != nil && ctx.Err() == nil {
			logger.Debugf("刷新持有人排行失败: %v", err)
		}
	}
	refresh()

	ticker := time.NewTicker(holderRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

func runPnL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	var remote json.RawMessage
	if handled, err := tryRemote(ctx, remoteFor(cfg, apiURL), "/api/v1/pnl/"+url.PathEscape(args[0]), &remote, logger); handled {
		if err != nil {
			return err
		}
		return printJSON(remote)
	}

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.query.PnL(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runHolders(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	var remote json.RawMessage
	if handled, err := tryRemote(ctx, remoteFor(cfg, apiURL), "/api/v1/holders", &remote, logger); handled {
		if err != nil {
			return err
		}
		return printJSON(remote)
	}

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.query.Holders(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runTracked(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	var remote json.RawMessage
	if handled, err := tryRemote(ctx, remoteFor(cfg, apiURL), fmt.Sprintf("/api/v1/tracked/%d", owner), &remote, logger); handled {
		if err != nil {
			return err
		}
		return printJSON(remote)
	}

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.query.Tracked(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runAlerts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	var remote struct {
		Alerts []models.PriceAlert `json:"alerts"`
	}
	if handled, err := tryRemote(ctx, remoteFor(cfg, apiURL), fmt.Sprintf("/api/v1/alerts/%d", owner), &remote, logger); handled {
		if err != nil {
			return err
		}
		printAlerts(remote.Alerts)
		return nil
	}

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close()

	engine := alerts.NewEngine(store.NewAlertStore(a.db), a.cfg.Monitor.AlertCooldown, a.logger)
	list, err := engine.List(owner)
	if err != nil {
		return err
	}
	printAlerts(list)
	return nil
}

func parseOwner(arg string) (int64, error) {
	owner, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("订阅者ID无效: %s", arg)
	}
	return owner, nil
}

func printAlerts(list []models.PriceAlert) {
	if len(list) == 0 {
		fmt.Println("没有价格提醒")
		return
	}
	for i, alert := range list {
		kind := "一次性"
		if alert.Recurring {
			kind = "循环"
		}
		fmt.Printf("%d. %s $%.10f (%s)\n", i+1, alert.Direction, alert.TargetPrice, kind)
	}
}
