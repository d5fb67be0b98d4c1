package store

import (
	"encoding/binary"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tokenwatch/internal/errors"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/tokenwatch.db"

	// 存储桶名称
	AlertsBucket       = "alerts"
	WalletCacheBucket  = "wallet_cache"
	ChatSettingsBucket = "chat_settings"
	TrackedBucket      = "tracked_wallets"
	MetaBucket         = "meta"

	// 每个桶只有一个key，保存整个集合
	collectionKey = "collection"
)

// ErrLocked 数据库文件被其他进程（通常是正在运行的监控）独占
var ErrLocked = stderrors.New("状态数据库被其他进程占用")

// lockTimeout 等待文件锁的时长
var lockTimeout = 1 * time.Second

// DB 本地状态数据库
//
// 每个集合整体序列化成一个JSON值，每次保存都整体重写，不做局部更新。
type DB struct {
	db     *bolt.DB
	logger *logrus.Logger
	path   string
}

// Open 打开（或创建）状态数据库
func Open(path string, logger *logrus.Logger) (*DB, error) {
	if path == "" {
		path = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: lockTimeout})
	if stderrors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("打开状态数据库失败: %w", ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("打开状态数据库失败: %w", err)
	}

	s := &DB{db: db, logger: logger, path: path}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("状态数据库已打开，路径: %s", path)
	return s, nil
}

// initDB 初始化数据库结构
func (s *DB) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{AlertsBucket, WalletCacheBucket, ChatSettingsBucket, TrackedBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// Path 数据库文件路径
func (s *DB) Path() string {
	return s.path
}

// Close 关闭数据库
func (s *DB) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("关闭状态数据库")
	return s.db.Close()
}

// load 读取整个集合，不存在时保持out为零值
func (s *DB) load(bucket string, out interface{}) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return readCollection(tx, bucket, out)
	})
	if err != nil {
		return errors.NewStorageError("读取"+bucket, err)
	}
	return nil
}

// update 在一个写事务中完成整个集合的读-改-写
func (s *DB) update(bucket string, out interface{}, fn func() error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := readCollection(tx, bucket, out); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return writeCollection(tx, bucket, out)
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewStorageError("写入"+bucket, err)
	}
	return nil
}

func readCollection(tx *bolt.Tx, bucket string, out interface{}) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("存储桶 %s 不存在", bucket)
	}
	data := b.Get([]byte(collectionKey))
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", bucket, err)
	}
	return nil
}

func writeCollection(tx *bolt.Tx, bucket string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(collectionKey), data)
}

// GetUint64 读取元数据中的整数值
func (s *DB) GetUint64(key string) (uint64, bool, error) {
	var (
		value uint64
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(MetaBucket)).Get([]byte(key))
		if len(data) == 8 {
			value = binary.BigEndian.Uint64(data)
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, false, errors.NewStorageError("读取元数据", err)
	}
	return value, found, nil
}

// PutUint64 写入元数据中的整数值
func (s *DB) PutUint64(key string, value uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, value)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(key), data)
	})
	if err != nil {
		return errors.NewStorageError("写入元数据", err)
	}
	return nil
}
