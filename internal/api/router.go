package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/print-kiosk/internal/config"
	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/job"
	"github.com/wfunc/print-kiosk/internal/middleware"
	"github.com/wfunc/print-kiosk/internal/printing"
	"github.com/wfunc/print-kiosk/internal/repository"
	"github.com/wfunc/print-kiosk/internal/utils"
	ws "github.com/wfunc/print-kiosk/internal/websocket"
)

// Deps 路由依赖
type Deps struct {
	DB         *gorm.DB
	Jobs       *repository.PrintJobRepository
	Payments   *repository.PaymentRecordRepository
	SerialLogs *repository.SerialLogRepository
	Manager    *job.TransactionManager
	Transport  hardware.Transport
	Platform   printing.Platform
	Hub        *ws.Hub
	Auth       *config.AuthConfig
	JWT        *utils.JWTManager
	Logger     *zap.Logger
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	deps   *Deps
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps *Deps) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine: engine,
		deps:   deps,
		log:    deps.Logger,
	}
	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	authMiddleware := middleware.NewAuthMiddleware(r.deps.JWT)

	authHandler := NewAuthHandler(r.deps.Auth, r.deps.JWT, r.log)
	jobHandler := NewJobHandler(r.deps.Jobs, r.deps.Payments, r.deps.Manager, r.log)
	hardwareHandler := NewHardwareHandler(r.deps.Transport, r.deps.Platform, r.deps.Hub, r.log)
	serialLogHandler := NewSerialLogHandler(r.deps.SerialLogs, r.log)
	wsHandler := NewWebSocketHandler(r.deps.Hub, r.log)

	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证（运维面板登录）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
		}

		// 任务：终端 UI 直接访问，不需要登录
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/payments", jobHandler.ListPayments)
			jobs.POST("/:job_id/start", jobHandler.StartJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// 硬件状态
		v1.GET("/hardware/status", hardwareHandler.Status)

		// 串口留痕：运维专用
		logs := v1.Group("/serial-logs")
		logs.Use(authMiddleware.RequireRole("admin"))
		{
			logs.GET("", serialLogHandler.QueryLogs)
			logs.GET("/latest", serialLogHandler.GetLatestLogs)
			logs.POST("/cleanup", serialLogHandler.CleanupLogs)
		}
	}

	// WebSocket路由（终端 UI 状态推送）
	r.engine.GET("/ws/status", wsHandler.StatusWebSocket)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.deps.DB.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("启动API服务", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
