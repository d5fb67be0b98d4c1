package store

import "tokenwatch/pkg/models"

// AlertCollection 订阅者ID到提醒列表的映射
type AlertCollection map[int64]*models.OwnerAlerts

// AlertStore 价格提醒存储
type AlertStore struct {
	db *DB
}

// NewAlertStore 创建价格提醒存储
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Load 读取全部提醒
func (s *AlertStore) Load() (AlertCollection, error) {
	alerts := make(AlertCollection)
	if err := s.db.load(AlertsBucket, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Update 对整个集合做一次原子的读-改-写，fn返回错误时不写入
func (s *AlertStore) Update(fn func(AlertCollection) error) error {
	alerts := make(AlertCollection)
	return s.db.update(AlertsBucket, &alerts, func() error {
		return fn(alerts)
	})
}
