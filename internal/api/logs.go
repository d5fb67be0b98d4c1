package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogFilter 查询条件，Level为最低级别
type LogFilter struct {
	Level     string
	Component string
}

// LogManager 固定容量的环形日志缓冲，写满后覆盖最旧的条目
type LogManager struct {
	mu    sync.RWMutex
	buf   []LogEntry
	next  int
	count int
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogManager{buf: make([]LogEntry, capacity)}
}

// Add 记录一条日志
func (lm *LogManager) Add(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		// error不能直接序列化
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % len(lm.buf)
	if lm.count < len(lm.buf) {
		lm.count++
	}
}

// snapshot 按时间从新到旧返回
func (lm *LogManager) snapshot() []LogEntry {
	out := make([]LogEntry, 0, lm.count)
	for i := 1; i <= lm.count; i++ {
		idx := (lm.next - i + len(lm.buf)) % len(lm.buf)
		out = append(out, lm.buf[idx])
	}
	return out
}

func (f LogFilter) match(e LogEntry) bool {
	if f.Level != "" {
		min, err := logrus.ParseLevel(f.Level)
		if err == nil {
			lvl, err := logrus.ParseLevel(e.Level)
			if err != nil || lvl > min {
				return false
			}
		}
	}
	if f.Component != "" && fmt.Sprint(e.Fields["component"]) != f.Component {
		return false
	}
	return true
}

// Page 分页查询，最新的在前
func (lm *LogManager) Page(filter LogFilter, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	all := lm.snapshot()
	lm.mu.RUnlock()

	filtered := all[:0]
	for _, e := range all {
		if filter.match(e) {
			filtered = append(filtered, e)
		}
	}

	total := len(filtered)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total
}

// Len 当前条目数
func (lm *LogManager) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.count
}

// Clear 清空日志
func (lm *LogManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf = make([]LogEntry, len(lm.buf))
	lm.next, lm.count = 0, 0
}

// LogHook 将logrus日志写入LogManager
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.Add(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
