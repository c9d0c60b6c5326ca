package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/stamp/internal/chain"
	"github.com/blues/stamp/internal/config"
	"github.com/blues/stamp/internal/database"
	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/logic"
	"github.com/blues/stamp/internal/metrics"
	"github.com/blues/stamp/internal/monitor"
	"github.com/blues/stamp/internal/relay"
	"github.com/blues/stamp/internal/router"
	"github.com/blues/stamp/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.Get(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链管理器
	chainManager, err := chain.NewManager(ctx, cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain manager: %v", err)
	}

	signer, err := chain.NewKeySigner(cfg.Chain.PrivateKey, chainManager.GetChainId())
	if err != nil {
		logger.Fatal("Failed to load relay key: %v", err)
	}
	logger.Info("Relay address: %s", signer.Address().Hex())

	m := metrics.New()
	gateway := chainManager.NewGateway(signer, func(what string, err error) {
		m.EstimationFallback(what)
		logger.Warn("Gas %s estimation failed, using fallback: %v", what, err)
	})
	sponsor := relay.New(gateway, chainManager.GetStampContract(), m)
	stampLogic := logic.NewStampLogic(db)

	// 启动链上销毁同步
	var eventMonitor *monitor.EventMonitor
	if cfg.Monitor.Enabled {
		eventMonitor, err = monitor.NewEventMonitor(chainManager.GetClient(), chainManager.GetStampContract(), db, stampLogic, m, monitor.Options{
			Interval:   time.Duration(cfg.Monitor.Interval) * time.Second,
			BatchSize:  uint64(max(cfg.Monitor.BatchSize, 0)),
			Workers:    cfg.Monitor.Workers,
			StartBlock: chainManager.GetStartBlock(),
		})
		if err != nil {
			logger.Fatal("Failed to create event monitor: %v", err)
		}
		if err := eventMonitor.Start(ctx); err != nil {
			logger.Fatal("Failed to start event monitor: %v", err)
		}
	}

	// 启动定时任务
	taskManager, err := scheduler.NewManager()
	if err != nil {
		logger.Fatal("Failed to create task manager: %v", err)
	}
	if err := taskManager.RegisterJob(scheduler.NewStampExpiryJob(stampLogic, cfg.Scheduler.ExpiryInterval, m)); err != nil {
		logger.Fatal("Failed to register stamp expiry job: %v", err)
	}
	taskManager.Start()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(router.Deps{
		StampLogic: stampLogic,
		Sponsor:    sponsor,
		Metrics:    m,
		ChainHealth: func(ctx context.Context) map[string]interface{} {
			status := chainManager.GetHealthStatus(ctx)
			if eventMonitor != nil {
				status["monitor"] = eventMonitor.GetStatus()
			}
			return status
		},
		Relay:          cfg.Relay,
		TrustedProxies: cfg.Server.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停止接收请求，已提交的代付交易继续等待回执
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}
	taskManager.Stop()
	if eventMonitor != nil {
		eventMonitor.Stop()
	}
	if err := chainManager.Close(); err != nil {
		logger.Error("Failed to close chain manager: %v", err)
	}
	if err := database.Close(); err != nil {
		logger.Error("Failed to close database: %v", err)
	}
	logger.Info("Server exited")
}
