package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode 最小JSON-RPC节点
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) interface{}
	calls    map[string]int
	params   map[string][]json.RawMessage
	fail     bool
}

func newFakeNode() *fakeNode {
	n := &fakeNode{
		handlers: make(map[string]func([]json.RawMessage) interface{}),
		calls:    make(map[string]int),
		params:   make(map[string][]json.RawMessage),
	}
	n.handle("eth_chainId", func([]json.RawMessage) interface{} { return "0x8f" })
	return n
}

func (n *fakeNode) handle(method string, fn func(params []json.RawMessage) interface{}) {
	n.handlers[method] = fn
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) lastParams(method string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.params[req.Method] = req.Params
	fail := n.fail && req.Method != "eth_chainId"
	fn := n.handlers[req.Method]
	n.mu.Unlock()

	if fail {
		http.Error(w, "upstream down", http.StatusBadGateway)
		return
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if fn == nil {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	} else {
		resp["result"] = fn(req.Params)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, nodes ...*fakeNode) *RPCClient {
	t.Helper()
	var cfgs []*config.NodeConfig
	for i, n := range nodes {
		srv := httptest.NewServer(n)
		t.Cleanup(srv.Close)
		cfgs = append(cfgs, &config.NodeConfig{Name: []string{"a", "b", "c"}[i], URL: srv.URL, Priority: i + 1})
	}
	client, err := NewRPCClient(context.Background(), cfgs, 2*time.Second, logrus.New())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestRPCClient_CurrentHeight(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_blockNumber", func([]json.RawMessage) interface{} { return "0x23fe9b6" })

	client := newTestClient(t, node)
	height, err := client.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x23fe9b6), height)
}

func TestRPCClient_GetLogs(t *testing.T) {
	wallet := "0x00000000000000000000000000000000000000aa"
	node := newFakeNode()
	node.handle("eth_getLogs", func([]json.RawMessage) interface{} {
		return []map[string]interface{}{{
			"address":          "0x81A224F8A62f52BdE942dBF23A56df77A10b7777",
			"topics":           []string{TransferTopic, PadAddressTopic("0x00000000000000000000000000000000000000bb"), PadAddressTopic(wallet)},
			"data":             "0x00000000000000000000000000000000000000000000000000000000000003e8",
			"blockNumber":      "0x10",
			"transactionHash":  "0x" + strings.Repeat("ab", 32),
			"transactionIndex": "0x0",
			"blockHash":        "0x" + strings.Repeat("cd", 32),
			"logIndex":         "0x2",
			"removed":          false,
		}}
	})

	client := newTestClient(t, node)
	logs, err := client.GetLogs(context.Background(), 10, 20, "0x81A224F8A62f52BdE942dBF23A56df77A10b7777",
		[][]string{{TransferTopic}, nil, {PadAddressTopic(wallet)}})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	l := logs[0]
	assert.Equal(t, uint64(16), l.BlockNumber)
	assert.Equal(t, "0x81a224f8a62f52bde942dbf23a56df77a10b7777", l.Address)
	assert.Equal(t, uint(2), l.LogIndex)
	assert.True(t, l.HasSignature(TransferTopic))

	// 过滤条件：中间位置为通配
	var filter struct {
		FromBlock string        `json:"fromBlock"`
		ToBlock   string        `json:"toBlock"`
		Topics    []interface{} `json:"topics"`
	}
	params := node.lastParams("eth_getLogs")
	require.Len(t, params, 1)
	require.NoError(t, json.Unmarshal(params[0], &filter))
	assert.Equal(t, "0xa", filter.FromBlock)
	assert.Equal(t, "0x14", filter.ToBlock)
	require.Len(t, filter.Topics, 3)
	assert.Nil(t, filter.Topics[1])

	ev, err := DecodeTransfer(l)
	require.NoError(t, err)
	assert.Equal(t, wallet, ev.To)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", ev.From)
	assert.Equal(t, int64(1000), ev.Amount.Int64())
}

func TestRPCClient_CallBalanceGas(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_call", func([]json.RawMessage) interface{} {
		return "0x0000000000000000000000000000000000000000000000000de0b6b3a7640000"
	})
	node.handle("eth_getBalance", func([]json.RawMessage) interface{} { return "0x2a" })
	node.handle("eth_gasPrice", func([]json.RawMessage) interface{} { return "0x3b9aca00" })

	client := newTestClient(t, node)
	ctx := context.Background()

	bal, err := TokenBalance(ctx, client, "0x81A224F8A62f52BdE942dBF23A56df77A10b7777", "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())

	native, err := client.Balance(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), native)

	gas, err := client.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000000000), gas)

	params := node.lastParams("eth_call")
	require.Len(t, params, 2)

	var call map[string]interface{}
	require.NoError(t, json.Unmarshal(params[0], &call))
	input, _ := call["input"].(string)
	if input == "" {
		input, _ = call["data"].(string)
	}
	assert.True(t, strings.HasPrefix(input, "0x70a08231"))

	var tag string
	require.NoError(t, json.Unmarshal(params[1], &tag))
	assert.Equal(t, "latest", tag)
}

func TestRPCClient_FailoverOnNextCall(t *testing.T) {
	primary := newFakeNode()
	primary.handle("eth_blockNumber", func([]json.RawMessage) interface{} { return "0x1" })
	backup := newFakeNode()
	backup.handle("eth_blockNumber", func([]json.RawMessage) interface{} { return "0x2" })

	client := newTestClient(t, primary, backup)
	assert.Equal(t, "a", client.ActiveNode())

	primary.mu.Lock()
	primary.fail = true
	primary.mu.Unlock()

	// 失败的调用不会在内部重试
	_, err := client.CurrentHeight(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 0, backup.count("eth_blockNumber"))
	assert.Equal(t, "b", client.ActiveNode())

	height, err := client.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)
}

func TestRPCClient_CancelledContextDoesNotFailover(t *testing.T) {
	primary := newFakeNode()
	backup := newFakeNode()
	client := newTestClient(t, primary, backup)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CurrentHeight(ctx)
	require.Error(t, err)
	assert.Equal(t, "a", client.ActiveNode())
}

func TestNewRPCClient_NoNodes(t *testing.T) {
	_, err := NewRPCClient(context.Background(), nil, time.Second, logrus.New())
	assert.True(t, errors.IsConfiguration(err))
}

func TestToTopicFilter(t *testing.T) {
	assert.Nil(t, toTopicFilter(nil))

	filter := toTopicFilter([][]string{{TransferTopic}, {}, {PadAddressTopic("0x01")}})
	require.Len(t, filter, 3)
	assert.Len(t, filter[0], 1)
	assert.Nil(t, filter[1])
	assert.Equal(t, PadAddressTopic("0x01"), filter[2][0].Hex())
}
