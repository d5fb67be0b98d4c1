// Package chaintest 提供内存中的chain.Client实现，供各包测试使用
package chaintest

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"tokenwatch/internal/errors"
	"tokenwatch/pkg/models"
)

// LogRequest 记录一次GetLogs调用
type LogRequest struct {
	From    uint64
	To      uint64
	Address string
	Topics  [][]string
}

// FakeClient 内存账本
type FakeClient struct {
	mu sync.Mutex

	Height    uint64
	HeightErr error
	Logs      []models.LogRecord
	// LogsErr 返回非nil时该次GetLogs失败
	LogsErr  func(from, to uint64) error
	CallFn   func(to string, data []byte) ([]byte, error)
	Balances map[string]*big.Int
	Gas      *big.Int

	Requests []LogRequest
	calls    map[string]int
}

// NewFakeClient 创建内存账本
func NewFakeClient(height uint64) *FakeClient {
	return &FakeClient{
		Height:   height,
		Balances: make(map[string]*big.Int),
		Gas:      big.NewInt(0),
		calls:    make(map[string]int),
	}
}

// SetHeight 修改当前高度
func (f *FakeClient) SetHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Height = h
}

// AddLogs 追加日志
func (f *FakeClient) AddLogs(logs ...models.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, logs...)
}

// Calls 某个方法被调用的次数
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// LogRequests GetLogs调用记录的副本
func (f *FakeClient) LogRequests() []LogRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LogRequest, len(f.Requests))
	copy(out, f.Requests)
	return out
}

// TotalCalls 所有方法的调用总数
func (f *FakeClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *FakeClient) record(method string) {
	f.calls[method]++
}

// CurrentHeight 实现chain.Client
func (f *FakeClient) CurrentHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("eth_blockNumber")
	if f.HeightErr != nil {
		return 0, errors.NewTransientNetworkError("eth_blockNumber", f.HeightErr)
	}
	return f.Height, nil
}

// GetLogs 实现chain.Client，按区间、地址和位置topic过滤
func (f *FakeClient) GetLogs(ctx context.Context, from, to uint64, address string, topics [][]string) ([]models.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("eth_getLogs")
	f.Requests = append(f.Requests, LogRequest{From: from, To: to, Address: address, Topics: topics})

	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransientNetworkError("eth_getLogs", err)
	}
	if f.LogsErr != nil {
		if err := f.LogsErr(from, to); err != nil {
			return nil, errors.NewTransientNetworkError("eth_getLogs", err)
		}
	}

	var out []models.LogRecord
	for _, l := range f.Logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if address != "" && !strings.EqualFold(l.Address, address) {
			continue
		}
		if !matchTopics(l.Topics, topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matchTopics(have []string, filter [][]string) bool {
	for i, slot := range filter {
		if len(slot) == 0 {
			continue
		}
		if i >= len(have) {
			return false
		}
		matched := false
		for _, want := range slot {
			if strings.EqualFold(have[i], want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Call 实现chain.Client
func (f *FakeClient) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.record("eth_call")
	fn := f.CallFn
	f.mu.Unlock()

	if fn == nil {
		return []byte{}, nil
	}
	result, err := fn(to, data)
	if err != nil {
		return nil, errors.NewTransientNetworkError("eth_call", err)
	}
	return result, nil
}

// Balance 实现chain.Client
func (f *FakeClient) Balance(ctx context.Context, addr string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("eth_getBalance")
	if b, ok := f.Balances[strings.ToLower(addr)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// GasPrice 实现chain.Client
func (f *FakeClient) GasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("eth_gasPrice")
	return new(big.Int).Set(f.Gas), nil
}
