package store

import "tokenwatch/pkg/models"

// ChatSettingsStore 聊天提醒设置存储
type ChatSettingsStore struct {
	db *DB
}

// NewChatSettingsStore 创建聊天设置存储
func NewChatSettingsStore(db *DB) *ChatSettingsStore {
	return &ChatSettingsStore{db: db}
}

// All 读取全部聊天设置
func (s *ChatSettingsStore) All() (map[int64]models.ChatAlertSetting, error) {
	all := make(map[int64]models.ChatAlertSetting)
	if err := s.db.load(ChatSettingsBucket, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Get 读取单个聊天设置，不存在时返回默认值（全部关闭，阈值0）
func (s *ChatSettingsStore) Get(chatID int64) (models.ChatAlertSetting, error) {
	all, err := s.All()
	if err != nil {
		return models.ChatAlertSetting{}, err
	}
	return all[chatID], nil
}

// Update 修改单个聊天设置并整体重写集合
func (s *ChatSettingsStore) Update(chatID int64, fn func(*models.ChatAlertSetting)) (models.ChatAlertSetting, error) {
	all := make(map[int64]models.ChatAlertSetting)
	var updated models.ChatAlertSetting
	err := s.db.update(ChatSettingsBucket, &all, func() error {
		setting := all[chatID]
		fn(&setting)
		all[chatID] = setting
		updated = setting
		return nil
	})
	return updated, err
}
