package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"tokenwatch/internal/chain"
	"tokenwatch/internal/metrics"
	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize      = 100
	DefaultPauseEvery     = 50
	DefaultPause          = 50 * time.Millisecond
	DefaultFailureBackoff = 100 * time.Millisecond
)

// Options 分块扫描参数
type Options struct {
	ChunkSize      uint64
	PauseEvery     int
	Pause          time.Duration
	FailureBackoff time.Duration
}

// DefaultOptions 默认扫描参数
func DefaultOptions() Options {
	return Options{
		ChunkSize:      DefaultChunkSize,
		PauseEvery:     DefaultPauseEvery,
		Pause:          DefaultPause,
		FailureBackoff: DefaultFailureBackoff,
	}
}

// Scanner 按固定大小的区块分块顺序拉取日志
//
// 分块请求严格串行，这是对上游节点的限流，不要改成并发。
type Scanner struct {
	client chain.Client
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	lastTail uint64
	hasTail  bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建扫描器
func New(client chain.Client, opts Options, logger *logrus.Logger) *Scanner {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Scanner{
		client: client,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

// BackwardRequest 向后扫描请求
type BackwardRequest struct {
	Address string
	Topics  [][]string
	// Floor 最低区块（代币创建区块），任何分块的起点都不会低于它
	Floor uint64
	// Budget 最多扫描的区块数，0表示一直扫到Floor
	Budget uint64
	// Height 起始高度，0表示查询当前高度
	Height uint64
}

// BackwardResult 向后扫描结果
type BackwardResult struct {
	// Logs 按区块升序排列
	Logs             []models.LogRecord
	LastScannedBlock uint64
	OldestBlock      uint64
	FailedChunks     int
	Partial          bool
}

// ScanBackward 从当前高度向后逐块扫描，单个分块失败时退避后跳过
func (s *Scanner) ScanBackward(ctx context.Context, req BackwardRequest) (*BackwardResult, error) {
	height := req.Height
	if height == 0 {
		h, err := s.client.CurrentHeight(ctx)
		if err != nil {
			return nil, err
		}
		height = h
	}

	result := &BackwardResult{LastScannedBlock: height, OldestBlock: height}
	if height < req.Floor {
		return result, nil
	}

	to := height
	var scanned uint64
	chunks := 0
	for to >= req.Floor {
		if req.Budget > 0 && scanned >= req.Budget {
			break
		}
		if ctx.Err() != nil {
			result.Partial = true
			break
		}

		size := s.opts.ChunkSize
		if req.Budget > 0 && req.Budget-scanned < size {
			size = req.Budget - scanned
		}
		from := req.Floor
		if to-req.Floor+1 > size {
			from = to - size + 1
		}

		logs, err := s.client.GetLogs(ctx, from, to, req.Address, req.Topics)
		if err != nil {
			result.FailedChunks++
			metrics.FailedChunks.Inc()
			s.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debugf("分块拉取失败，跳过: %v", err)
			if err := s.sleep(ctx, s.opts.FailureBackoff); err != nil {
				result.Partial = true
				break
			}
		} else {
			result.Logs = append(result.Logs, logs...)
		}

		result.OldestBlock = from
		scanned += to - from + 1
		chunks++

		if s.opts.PauseEvery > 0 && chunks%s.opts.PauseEvery == 0 {
			if err := s.sleep(ctx, s.opts.Pause); err != nil {
				result.Partial = true
				break
			}
		}

		if from == 0 {
			break
		}
		to = from - 1
	}

	if result.FailedChunks > 0 {
		result.Partial = true
	}
	sortLogs(result.Logs)
	return result, nil
}

// ForwardRequest 向前扫描请求
type ForwardRequest struct {
	Address string
	Topics  [][]string
	From    uint64
	To      uint64
}

// ForwardResult 向前扫描结果
type ForwardResult struct {
	Logs         []models.LogRecord
	FailedChunks int
	Partial      bool
}

// ScanForward 从From到To按升序逐块扫描
func (s *Scanner) ScanForward(ctx context.Context, req ForwardRequest) (*ForwardResult, error) {
	result := &ForwardResult{}
	if req.From > req.To {
		return result, nil
	}

	chunks := 0
	for from := req.From; from <= req.To; {
		if ctx.Err() != nil {
			result.Partial = true
			break
		}

		to := req.To
		if req.To-from+1 > s.opts.ChunkSize {
			to = from + s.opts.ChunkSize - 1
		}

		logs, err := s.client.GetLogs(ctx, from, to, req.Address, req.Topics)
		if err != nil {
			result.FailedChunks++
			metrics.FailedChunks.Inc()
			s.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debugf("分块拉取失败，跳过: %v", err)
			if err := s.sleep(ctx, s.opts.FailureBackoff); err != nil {
				result.Partial = true
				break
			}
		} else {
			result.Logs = append(result.Logs, logs...)
		}

		chunks++
		if s.opts.PauseEvery > 0 && chunks%s.opts.PauseEvery == 0 {
			if err := s.sleep(ctx, s.opts.Pause); err != nil {
				result.Partial = true
				break
			}
		}

		if to == req.To {
			break
		}
		from = to + 1
	}

	if result.FailedChunks > 0 {
		result.Partial = true
	}
	sortLogs(result.Logs)
	return result, nil
}

// TailRequest 实时尾部扫描请求
type TailRequest struct {
	Address string
	Topics  [][]string
	Window  uint64
}

// TailResult 实时尾部扫描结果
type TailResult struct {
	Logs []models.LogRecord
	From uint64
	To   uint64
	// Gap 与上一个窗口之间未覆盖的区块数
	Gap uint64
}

// Tail 单次调用拉取[current-K, current]，失败直接返回错误，本tick跳过
func (s *Scanner) Tail(ctx context.Context, req TailRequest) (*TailResult, error) {
	height, err := s.client.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	var from uint64
	if height > req.Window {
		from = height - req.Window
	}

	logs, err := s.client.GetLogs(ctx, from, height, req.Address, req.Topics)
	if err != nil {
		return nil, err
	}
	sortLogs(logs)

	result := &TailResult{Logs: logs, From: from, To: height}

	s.mu.Lock()
	if s.hasTail && from > s.lastTail+1 {
		result.Gap = from - s.lastTail - 1
	}
	if !s.hasTail || height > s.lastTail {
		s.lastTail = height
		s.hasTail = true
	}
	s.mu.Unlock()

	metrics.TailHeight.Set(float64(height))
	if result.Gap > 0 {
		metrics.TailGapBlocks.Add(float64(result.Gap))
		s.logger.WithFields(logrus.Fields{
			"from":   from,
			"to":     height,
			"missed": result.Gap,
		}).Warn("实时扫描窗口出现缺口，部分区块未被覆盖")
	}

	return result, nil
}

// LastTail 最近一次成功的尾部扫描高度
func (s *Scanner) LastTail() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTail, s.hasTail
}

func sortLogs(logs []models.LogRecord) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
