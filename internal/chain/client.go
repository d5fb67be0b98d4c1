package chain

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/errors"
	"tokenwatch/internal/metrics"
	"tokenwatch/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout 单次RPC调用超时
const DefaultCallTimeout = 10 * time.Second

// Client 账本读取能力，所有错误都是TransientNetworkError，内部不重试
type Client interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	// topics 按位置过滤，nil或空切片表示该位置任意值
	GetLogs(ctx context.Context, from, to uint64, address string, topics [][]string) ([]models.LogRecord, error)
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	Balance(ctx context.Context, addr string) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// node 单个RPC节点
type node struct {
	name   string
	url    string
	client *ethclient.Client
}

// RPCClient 基于ethclient的多节点客户端
//
// 调用失败时本次直接返回错误，下一次调用切换到下一个节点。
type RPCClient struct {
	nodes   []*node
	current int
	mu      sync.Mutex
	timeout time.Duration
	logger  *logrus.Logger
}

// NewRPCClient 按优先级连接所有配置的节点
func NewRPCClient(ctx context.Context, nodes []*config.NodeConfig, timeout time.Duration, logger *logrus.Logger) (*RPCClient, error) {
	if len(nodes) == 0 {
		return nil, errors.NewConfigurationError("没有配置RPC节点")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	sorted := make([]*config.NodeConfig, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	c := &RPCClient{timeout: timeout, logger: logger}
	for _, nc := range sorted {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		client, err := ethclient.DialContext(dialCtx, nc.URL)
		cancel()
		if err != nil {
			logger.Warnf("连接节点 %s 失败: %v", nc.Name, err)
			continue
		}

		// 测试连接，失败只告警，节点仍保留在轮换列表中
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		if chainID, err := client.ChainID(checkCtx); err != nil {
			logger.Warnf("节点 %s 连接测试失败: %v", nc.Name, err)
		} else {
			logger.Infof("节点 %s 已连接，chain id: %s", nc.Name, chainID)
		}
		cancel()

		c.nodes = append(c.nodes, &node{name: nc.Name, url: nc.URL, client: client})
	}

	if len(c.nodes) == 0 {
		return nil, errors.NewConfigurationError("没有可用的RPC节点")
	}
	c.setActive(0)
	return c, nil
}

// Close 关闭所有节点连接
func (c *RPCClient) Close() {
	for _, n := range c.nodes {
		n.client.Close()
	}
}

// ActiveNode 当前使用的节点名
func (c *RPCClient) ActiveNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[c.current].name
}

func (c *RPCClient) pick() (int, *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.nodes[c.current]
}

// markFailed 失败节点仍是当前节点时切换到下一个
func (c *RPCClient) markFailed(idx int) {
	c.mu.Lock()
	if len(c.nodes) < 2 || c.current != idx {
		c.mu.Unlock()
		return
	}
	next := (idx + 1) % len(c.nodes)
	c.mu.Unlock()

	c.logger.Warnf("节点 %s 调用失败，后续调用切换到 %s", c.nodes[idx].name, c.nodes[next].name)
	c.setActive(next)
}

func (c *RPCClient) setActive(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = idx
	for i, n := range c.nodes {
		v := 0.0
		if i == idx {
			v = 1
		}
		metrics.ActiveNode.WithLabelValues(n.name).Set(v)
	}
}

// do 在超时内执行一次调用并记录指标
func (c *RPCClient) do(ctx context.Context, method string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	idx, n := c.pick()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx, n.client)
	metrics.ChainCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	metrics.ChainCallFailures.WithLabelValues(method, n.name).Inc()
	// 上层取消不算节点故障
	if ctx.Err() == nil {
		c.markFailed(idx)
	}
	return errors.NewTransientNetworkError(method, err).
		WithComponent("chain").
		WithContext("node", n.name)
}

// CurrentHeight eth_blockNumber
func (c *RPCClient) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.do(ctx, "eth_blockNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)
		return err
	})
	return height, err
}

// GetLogs eth_getLogs
func (c *RPCClient) GetLogs(ctx context.Context, from, to uint64, address string, topics [][]string) ([]models.LogRecord, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    toTopicFilter(topics),
	}
	if address != "" {
		query.Addresses = []common.Address{common.HexToAddress(address)}
	}

	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		we, _ := errors.As(err)
		return nil, we.WithContext("from", from).WithContext("to", to)
	}

	records := make([]models.LogRecord, 0, len(logs))
	for _, l := range logs {
		records = append(records, toLogRecord(l))
	}
	return records, nil
}

// Call eth_call，使用latest区块
func (c *RPCClient) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(to)
	msg := ethereum.CallMsg{To: &addr, Data: data}

	var result []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, nil)
		return err
	})
	return result, err
}

// Balance eth_getBalance
func (c *RPCClient) Balance(ctx context.Context, addr string) (*big.Int, error) {
	var balance *big.Int
	err := c.do(ctx, "eth_getBalance", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, common.HexToAddress(addr), nil)
		return err
	})
	return balance, err
}

// GasPrice eth_gasPrice
func (c *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.do(ctx, "eth_gasPrice", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		price, err = client.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// toTopicFilter 转换位置过滤条件，空位置为通配
func toTopicFilter(topics [][]string) [][]common.Hash {
	if len(topics) == 0 {
		return nil
	}
	filter := make([][]common.Hash, len(topics))
	for i, slot := range topics {
		if len(slot) == 0 {
			continue
		}
		hashes := make([]common.Hash, 0, len(slot))
		for _, t := range slot {
			hashes = append(hashes, common.HexToHash(t))
		}
		filter[i] = hashes
	}
	return filter
}

func toLogRecord(l types.Log) models.LogRecord {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return models.LogRecord{
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		Address:     strings.ToLower(l.Address.Hex()),
		Topics:      topics,
		Data:        hexutil.Encode(l.Data),
		LogIndex:    l.Index,
	}
}
