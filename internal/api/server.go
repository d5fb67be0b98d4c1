package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tokenwatch/internal/errors"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/query"
	"tokenwatch/internal/validation"
	"tokenwatch/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StatusSource 监控循环状态
type StatusSource interface {
	Status() monitor.Status
}

// QueryService 按需查询
type QueryService interface {
	Price(ctx context.Context) (*models.PriceSnapshot, error)
	PnL(ctx context.Context, wallet string) (*query.PnLReport, error)
	Holders(ctx context.Context) (*query.HoldersReport, error)
	Gas(ctx context.Context) (*query.GasReport, error)
	Burned(ctx context.Context) (*query.BurnReport, error)
	Tracked(ctx context.Context, owner int64) (*query.TrackedReport, error)
}

// TrackedWallets 关注钱包列表维护
type TrackedWallets interface {
	Add(owner int64, username, address, label string) (bool, error)
	Remove(owner int64, address string) (bool, error)
}

// AlertManager 价格提醒订阅
type AlertManager interface {
	Add(owner int64, username string, target float64, recurring bool, snapshot *models.PriceSnapshot) (models.PriceAlert, error)
	List(owner int64) ([]models.PriceAlert, error)
	Remove(owner int64, index int) (bool, error)
}

// ChatSettings 聊天的买卖提醒设置
type ChatSettings interface {
	Settings(chatID int64) (models.ChatAlertSetting, error)
	SetBuyAlerts(chatID int64, enabled bool) (models.ChatAlertSetting, error)
	SetSellAlerts(chatID int64, enabled bool) (models.ChatAlertSetting, error)
	SetThreshold(chatID int64, minUSD float64) (models.ChatAlertSetting, error)
}

// Deps API依赖，Monitor可为nil（只读查询模式）
type Deps struct {
	Monitor StatusSource
	Query   QueryService
	Alerts  AlertManager
	Chats   ChatSettings
	Tracked TrackedWallets
	Handler *errors.ErrorHandler
}

// Server API服务器
type Server struct {
	deps       Deps
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	router     *gin.Engine
	port       int
	started    time.Time
}

// NewServer 创建API服务器
func NewServer(deps Deps, logger *logrus.Logger, port int) *Server {
	// 最多保存1000条日志
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	if deps.Handler == nil {
		deps.Handler = errors.NewErrorHandler(logger)
	}

	s := &Server{
		deps:       deps,
		logger:     logger,
		logManager: logManager,
		port:       port,
		started:    time.Now(),
	}
	s.router = s.newRouter()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回路由，测试时直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动HTTP服务，阻塞直到服务关闭
func (s *Server) Start() error {
	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API服务器运行失败: %w", err)
	}
	return nil
}

// Stop 停止HTTP服务
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)

		// 查询
		api.GET("/price", s.getPrice)
		api.GET("/pnl/:wallet", s.getPnL)
		api.GET("/holders", s.getHolders)
		api.GET("/gas", s.getGas)
		api.GET("/burn", s.getBurn)

		// 价格提醒
		api.POST("/alerts", s.addAlert)
		api.GET("/alerts/:owner", s.listAlerts)
		api.DELETE("/alerts/:owner/:index", s.removeAlert)

		// 关注钱包
		api.POST("/tracked/:owner", s.trackWallet)
		api.GET("/tracked/:owner", s.listTracked)
		api.DELETE("/tracked/:owner/:address", s.untrackWallet)

		// 聊天设置
		api.GET("/chats/:id/settings", s.getChatSettings)
		api.PUT("/chats/:id/settings", s.updateChatSettings)

		// 日志
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// writeError 按错误类型映射状态码
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, errors.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errors.ErrUnavailable.Error()})
	case errors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.deps.Handler.Handle(err, "api")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, fmt.Sprintf("%s格式无效", name))
		return 0, false
	}
	return id, true
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "tokenwatch",
	})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"errors": s.deps.Handler.GetStats(),
	}
	if s.deps.Monitor != nil {
		resp["monitor"] = s.deps.Monitor.Status()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPrice(c *gin.Context) {
	snapshot, err := s.deps.Query.Price(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getPnL(c *gin.Context) {
	report, err := s.deps.Query.PnL(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getHolders(c *gin.Context) {
	report, err := s.deps.Query.Holders(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getGas(c *gin.Context) {
	report, err := s.deps.Query.Gas(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getBurn(c *gin.Context) {
	report, err := s.deps.Query.Burned(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// addAlert 订阅价格提醒，行情不可用时方向默认为above
func (s *Server) addAlert(c *gin.Context) {
	var req struct {
		OwnerID     int64   `json:"owner_id" binding:"required"`
		Username    string  `json:"username"`
		TargetPrice float64 `json:"target_price" binding:"required"`
		Recurring   bool    `json:"recurring"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	snapshot, err := s.deps.Query.Price(c.Request.Context())
	if err != nil {
		s.logger.WithField("owner", req.OwnerID).Warn("行情不可用，提醒方向按above处理")
		snapshot = nil
	}

	alert, err := s.deps.Alerts.Add(req.OwnerID, req.Username, req.TargetPrice, req.Recurring, snapshot)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (s *Server) listAlerts(c *gin.Context) {
	owner, ok := parseID(c, "owner")
	if !ok {
		return
	}
	list, err := s.deps.Alerts.List(owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []models.PriceAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": owner, "alerts": list, "total": len(list)})
}

// removeAlert 按列表中的序号删除，序号从1开始
func (s *Server) removeAlert(c *gin.Context) {
	owner, ok := parseID(c, "owner")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		badRequest(c, "序号必须为正整数")
		return
	}

	removed, err := s.deps.Alerts.Remove(owner, index-1)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "提醒不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "提醒已删除"})
}

// trackWallet 添加关注，重复添加返回409
func (s *Server) trackWallet(c *gin.Context) {
	owner, ok := parseID(c, "owner")
	if !ok {
		return
	}
	var req struct {
		Address  string `json:"address" binding:"required"`
		Label    string `json:"label"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	address, err := validation.NormalizeAddress(req.Address)
	if err != nil {
		s.writeError(c, err)
		return
	}

	added, err := s.deps.Tracked.Add(owner, req.Username, address, req.Label)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !added {
		c.JSON(http.StatusConflict, gin.H{"error": "已经在关注该钱包"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"owner_id": owner, "address": address})
}

// listTracked 关注列表及缓存中的买卖记录，不触发扫描
func (s *Server) listTracked(c *gin.Context) {
	owner, ok := parseID(c, "owner")
	if !ok {
		return
	}
	report, err := s.deps.Query.Tracked(c.Request.Context(), owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) untrackWallet(c *gin.Context) {
	owner, ok := parseID(c, "owner")
	if !ok {
		return
	}
	address, err := validation.NormalizeAddress(c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	removed, err := s.deps.Tracked.Remove(owner, address)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "未关注该钱包"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已取消关注"})
}

func (s *Server) getChatSettings(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	setting, err := s.deps.Chats.Settings(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// updateChatSettings 只修改请求中出现的字段
func (s *Server) updateChatSettings(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		BuyAlerts  *bool    `json:"buy_alerts"`
		SellAlerts *bool    `json:"sell_alerts"`
		MinUSD     *float64 `json:"min_usd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.BuyAlerts == nil && req.SellAlerts == nil && req.MinUSD == nil {
		badRequest(c, "没有需要更新的字段")
		return
	}

	var (
		setting models.ChatAlertSetting
		err     error
	)
	if req.BuyAlerts != nil {
		if setting, err = s.deps.Chats.SetBuyAlerts(id, *req.BuyAlerts); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if req.SellAlerts != nil {
		if setting, err = s.deps.Chats.SetSellAlerts(id, *req.SellAlerts); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if req.MinUSD != nil {
		if setting, err = s.deps.Chats.SetThreshold(id, *req.MinUSD); err != nil {
			s.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, setting)
}

func (s *Server) getLogs(c *gin.Context) {
	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}
	level := c.Query("level")
	component := c.Query("component")

	logs, total := s.logManager.Page(LogFilter{Level: level, Component: component}, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
