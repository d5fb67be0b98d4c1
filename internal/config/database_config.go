package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器，用于集中覆盖节点列表和监控参数
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// Apply 用数据库中的值覆盖配置，表为空时保持原值
func (dc *DatabaseConfig) Apply(config *Config) error {
	nodes, err := dc.loadNodes()
	if err != nil {
		return fmt.Errorf("加载节点配置失败: %w", err)
	}
	if len(nodes) > 0 {
		config.Chain.Nodes = nodes
	}

	settings, err := dc.loadSettings()
	if err != nil {
		return fmt.Errorf("加载监控配置失败: %w", err)
	}
	for key, value := range settings {
		if !applySetting(config, key, value) {
			dc.logger.Warnf("忽略未知或非法的配置项: %s=%s", key, value)
		}
	}

	return nil
}

// loadNodes 加载节点配置
func (dc *DatabaseConfig) loadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, priority FROM chain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}

// loadSettings 加载键值配置
func (dc *DatabaseConfig) loadSettings() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM monitor_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}

	return settings, rows.Err()
}

// applySetting 应用单个配置项，未知key或解析失败返回false
func applySetting(config *Config, key, value string) bool {
	value = strings.TrimSpace(value)

	parseUint := func(dst *uint64) bool {
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil || v == 0 {
			return false
		}
		*dst = v
		return true
	}
	parseDuration := func(dst *time.Duration) bool {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return false
		}
		*dst = d
		return true
	}

	switch key {
	case "tick_interval":
		return parseDuration(&config.Monitor.TickInterval)
	case "alert_cooldown":
		return parseDuration(&config.Monitor.AlertCooldown)
	case "call_timeout":
		return parseDuration(&config.Chain.CallTimeout)
	case "chunk_size":
		return parseUint(&config.Chain.ChunkSize)
	case "tail_window":
		return parseUint(&config.Chain.TailWindow)
	case "wallet_scan_budget":
		return parseUint(&config.Chain.WalletScanBudget)
	case "holder_scan_blocks":
		return parseUint(&config.Chain.HolderScanBlocks)
	case "seen_capacity":
		v, err := strconv.Atoi(value)
		if err != nil || v <= 1 {
			return false
		}
		config.Monitor.SeenCapacity = v
		return true
	case "enrich":
		config.Monitor.Enrich = strings.ToLower(value) == "true"
		return true
	case "sinks":
		var sinks []string
		if err := json.Unmarshal([]byte(value), &sinks); err != nil {
			return false
		}
		config.Output.Sinks = sinks
		return true
	case "kafka_brokers":
		var brokers []string
		if err := json.Unmarshal([]byte(value), &brokers); err != nil {
			return false
		}
		if config.Output.Kafka == nil {
			config.Output.Kafka = &KafkaConfig{}
		}
		config.Output.Kafka.Brokers = brokers
		return true
	default:
		return false
	}
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
