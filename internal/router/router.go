package router

import (
	"context"
	"net/http"

	"github.com/blues/stamp/internal/config"
	"github.com/blues/stamp/internal/handler"
	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/logic"
	"github.com/blues/stamp/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps 路由依赖
type Deps struct {
	StampLogic *logic.StampLogic
	Sponsor    handler.Sponsor
	Metrics    *metrics.Metrics
	// ChainHealth 可选，返回链连接状态
	ChainHealth func(ctx context.Context) map[string]interface{}
	Relay       config.RelayConfig
	// TrustedProxies 允许设置 X-Forwarded-For 的代理，为空时限流按连接对端地址计算
	TrustedProxies []string
}

func Setup(deps Deps) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies %v, trusting none: %v", deps.TrustedProxies, err)
		_ = r.SetTrustedProxies(nil)
	}

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(requestIdMiddleware())
	r.Use(corsMiddleware())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.GinMiddleware())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		health := gin.H{
			"status":  "ok",
			"service": "stamp-service",
		}
		if deps.ChainHealth != nil {
			chain := deps.ChainHealth(c.Request.Context())
			health["chain"] = chain
			if chain["client_status"] != "connected" {
				health["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, health)
	})

	sponsorLimiter := NewRateLimiter(deps.Relay.RatePerSecond, deps.Relay.Burst)
	sponsorHandler := handler.NewSponsorHandler(deps.Sponsor)
	stampHandler := handler.NewStampHandler(deps.StampLogic)

	// 同一组路由挂载在根路径和 /api 下
	for _, group := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		group.POST("/sponsor", sponsorLimiter.Middleware(), sponsorHandler.SponsorGas)
		group.POST("/sponsor-gas", sponsorLimiter.Middleware(), sponsorHandler.SponsorGas)

		group.POST("/mint", stampHandler.Mint)
		group.GET("/owner/:address", stampHandler.GetByOwner)
		group.GET("/store/:storeName", stampHandler.GetByStore)
		group.PUT("/updateStatus", stampHandler.UpdateStatus)
		group.GET("/:stampId", stampHandler.GetStamp)
		group.DELETE("/:stampId", stampHandler.DeleteStamp)
	}

	return r
}

// requestIdMiddleware 透传或生成 X-Request-ID
func requestIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader("X-Request-ID")
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Set("request_id", requestId)
		c.Header("X-Request-ID", requestId)
		c.Next()
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
