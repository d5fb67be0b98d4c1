package store

import (
	"strings"

	"tokenwatch/pkg/models"
)

// WalletStore 钱包扫描结果存储，key为小写地址
type WalletStore struct {
	db *DB
}

// NewWalletStore 创建钱包缓存存储
func NewWalletStore(db *DB) *WalletStore {
	return &WalletStore{db: db}
}

// Get 读取钱包扫描结果，不存在时返回nil
func (s *WalletStore) Get(wallet string) (*models.WalletScanResult, error) {
	all := make(map[string]*models.WalletScanResult)
	if err := s.db.load(WalletCacheBucket, &all); err != nil {
		return nil, err
	}
	return all[strings.ToLower(wallet)], nil
}

// Put 写入钱包扫描结果，整体重写集合
func (s *WalletStore) Put(wallet string, result *models.WalletScanResult) error {
	all := make(map[string]*models.WalletScanResult)
	return s.db.update(WalletCacheBucket, &all, func() error {
		all[strings.ToLower(wallet)] = result
		return nil
	})
}
