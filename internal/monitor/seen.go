package monitor

import "sync"

// DefaultSeenCapacity 去重集合上限
const DefaultSeenCapacity = 1000

// SeenSet 已分发交易的有界去重集合，超过上限时只保留最新的一半
// 所有修改都经过MarkIfNew，淘汰时整体替换内部集合
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	index    map[string]struct{}
}

// NewSeenSet 创建去重集合
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 1 {
		capacity = DefaultSeenCapacity
	}
	return &SeenSet{
		capacity: capacity,
		order:    make([]string, 0, capacity+1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

// MarkIfNew 未见过时记录并返回true
func (s *SeenSet) MarkIfNew(tx string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[tx]; ok {
		return false
	}
	s.order = append(s.order, tx)
	s.index[tx] = struct{}{}

	if len(s.order) > s.capacity {
		keep := s.capacity / 2
		order := make([]string, keep, s.capacity+1)
		copy(order, s.order[len(s.order)-keep:])
		index := make(map[string]struct{}, s.capacity+1)
		for _, id := range order {
			index[id] = struct{}{}
		}
		s.order, s.index = order, index
	}
	return true
}

// Contains 是否已记录
func (s *SeenSet) Contains(tx string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[tx]
	return ok
}

// Len 当前记录数
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
