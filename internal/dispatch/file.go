package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tokenwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// FileSink 异步批量写入JSON行文件，每次运行一个文件
type FileSink struct {
	logger *logrus.Logger
	file   *os.File
	path   string

	ch     chan *models.AlertPayload
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	batchSize     int
	flushInterval time.Duration
}

// NewFileSink 创建文件输出
func NewFileSink(dir string, logger *logrus.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	name := fmt.Sprintf("alerts_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建文件 %s 失败: %w", name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileSink{
		logger:        logger,
		file:          file,
		path:          path,
		ch:            make(chan *models.AlertPayload, 1000),
		ctx:           ctx,
		cancel:        cancel,
		batchSize:     100,
		flushInterval: time.Second,
	}

	s.wg.Add(1)
	go s.writer()

	logger.Infof("文件输出已初始化: %s", path)
	return s, nil
}

// Path 输出文件路径
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) writer() {
	defer s.wg.Done()

	batch := make([]*models.AlertPayload, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case p := <-s.ch:
			batch = append(batch, p)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.ctx.Done():
			// 写入通道中剩余的数据
			for {
				select {
				case p := <-s.ch:
					batch = append(batch, p)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *FileSink) flush(batch []*models.AlertPayload) {
	for _, p := range batch {
		data, err := json.Marshal(p)
		if err != nil {
			s.logger.Errorf("序列化通知失败: %v", err)
			continue
		}
		data = append(data, '\n')
		if _, err := s.file.Write(data); err != nil {
			s.logger.Errorf("写入通知文件失败: %v", err)
		}
	}
	if err := s.file.Sync(); err != nil {
		s.logger.Warnf("同步通知文件失败: %v", err)
	}
}

// Send 实现Sink，通道满时丢弃并返回错误
func (s *FileSink) Send(ctx context.Context, payload *models.AlertPayload) error {
	if payload == nil {
		return nil
	}
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("输出器已关闭")
	default:
	}

	select {
	case s.ch <- payload:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("输出器已关闭")
	default:
		return fmt.Errorf("通知通道已满，丢弃数据")
	}
}

// Close 停止写入并关闭文件
func (s *FileSink) Close() error {
	var err error
	s.once.Do(func() {
		s.logger.Info("关闭文件输出...")
		s.cancel()
		s.wg.Wait()
		if cerr := s.file.Close(); cerr != nil {
			err = fmt.Errorf("关闭文件 %s 失败: %w", s.path, cerr)
		}
	})
	return err
}
