package store

import (
	"strings"
	"time"

	"tokenwatch/pkg/models"
)

// TrackedStore 关注钱包存储，地址比较不区分大小写
type TrackedStore struct {
	db  *DB
	now func() time.Time
}

// NewTrackedStore 创建关注钱包存储
func NewTrackedStore(db *DB) *TrackedStore {
	return &TrackedStore{db: db, now: time.Now}
}

// List 订阅者的关注列表，按添加顺序
func (s *TrackedStore) List(owner int64) ([]models.TrackedWallet, error) {
	all := make(map[int64]*models.OwnerTracked)
	if err := s.db.load(TrackedBucket, &all); err != nil {
		return nil, err
	}
	if entry, ok := all[owner]; ok {
		return entry.Wallets, nil
	}
	return nil, nil
}

// Add 添加关注，已存在时返回false；label为空时使用地址
func (s *TrackedStore) Add(owner int64, username, address, label string) (bool, error) {
	if label == "" {
		label = address
	}
	all := make(map[int64]*models.OwnerTracked)
	added := false
	err := s.db.update(TrackedBucket, &all, func() error {
		entry, ok := all[owner]
		if !ok {
			entry = &models.OwnerTracked{Username: username}
			all[owner] = entry
		}
		for _, w := range entry.Wallets {
			if strings.EqualFold(w.Address, address) {
				return nil
			}
		}
		entry.Wallets = append(entry.Wallets, models.TrackedWallet{
			Address: address,
			Label:   label,
			Added:   s.now(),
		})
		added = true
		return nil
	})
	return added, err
}

// Remove 取消关注，不存在时返回false
func (s *TrackedStore) Remove(owner int64, address string) (bool, error) {
	all := make(map[int64]*models.OwnerTracked)
	removed := false
	err := s.db.update(TrackedBucket, &all, func() error {
		entry, ok := all[owner]
		if !ok {
			return nil
		}
		kept := entry.Wallets[:0]
		for _, w := range entry.Wallets {
			if strings.EqualFold(w.Address, address) {
				removed = true
				continue
			}
			kept = append(kept, w)
		}
		entry.Wallets = kept
		return nil
	})
	return removed, err
}
