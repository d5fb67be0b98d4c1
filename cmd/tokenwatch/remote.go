package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/store"

	"github.com/sirupsen/logrus"
)

var (
	// errNoServer 连不上监控进程的API，改为本地执行
	errNoServer = stderrors.New("API不可达")
	// errMonitorRunning 监控进程独占了状态数据库
	errMonitorRunning = stderrors.New("监控正在运行且API不可达，请启用api或通过 --api 指定监控的API地址后重试")
)

// remoteClient 正在运行的监控进程的API客户端
type remoteClient struct {
	base string
	http *http.Client
}

// remoteFor 按 --api 或配置中的端口确定API地址，API未启用且未指定地址时返回nil
func remoteFor(cfg *config.Config, override string) *remoteClient {
	base := strings.TrimRight(override, "/")
	if base == "" {
		if cfg.API == nil || !cfg.API.Enabled || cfg.API.Port <= 0 {
			return nil
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.API.Port)
	}
	// 持有人统计要扫描2000个区块，超时放宽
	return &remoteClient{base: base, http: &http.Client{Timeout: 2 * time.Minute}}
}

// get 请求API并解析JSON，连接失败返回errNoServer，非2xx返回API给出的错误
func (r *remoteClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoServer, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API返回%d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API返回%d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// tryRemote 有API时通过API查询，返回handled=false表示需要本地执行
func tryRemote(ctx context.Context, remote *remoteClient, path string, out interface{}, logger logrus.FieldLogger) (bool, error) {
	if remote == nil {
		return false, nil
	}
	err := remote.get(ctx, path, out)
	if stderrors.Is(err, errNoServer) {
		logger.Debugf("监控API不可达，改为本地查询: %v", err)
		return false, nil
	}
	return true, err
}

// openStore 打开状态数据库，被监控进程占用时给出明确提示
func openStore(path string, logger *logrus.Logger) (*store.DB, error) {
	db, err := store.Open(path, logger)
	if stderrors.Is(err, store.ErrLocked) {
		return nil, errMonitorRunning
	}
	if err != nil {
		return nil, fmt.Errorf("打开本地存储失败: %w", err)
	}
	return db, nil
}
