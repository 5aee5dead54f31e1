package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtrap/backend/internal/config"
	"mailtrap/backend/internal/health"
	"mailtrap/backend/internal/middleware"
	"mailtrap/backend/internal/monitoring"
	"mailtrap/backend/internal/service"
	"mailtrap/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	MailService  *service.MailService
	WebSocketHub *websocket.Hub        // 为空时不注册 /ws
	Health       *health.HealthChecker // 为空时不注册健康检查
	Metrics      *monitoring.Metrics   // 为空时不记录 HTTP 指标
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	} else {
		router.Use(gin.Recovery())
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(gincors.New(corsConfig))
	}

	emails := NewEmailHandler(deps.MailService, deps.Config.Server.PublicURL, deps.Config.Server.BasePath, log)
	configHandler := NewConfigHandler(deps.Config, deps.MailService)

	base := router.Group(deps.Config.Server.BasePath)

	// 健康检查
	if deps.Health != nil {
		base.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		base.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
		base.GET("/health", func(c *gin.Context) {
			Success(c, deps.Health.CheckHealth())
		})
	}

	if deps.Metrics != nil {
		base.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	if deps.WebSocketHub != nil {
		base.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	base.GET("/config", configHandler.GetConfig)

	email := base.Group("/email")
	{
		email.GET("", emails.List)
		email.GET("/:id", emails.Get)
		email.GET("/:id/html", emails.HTML)
		email.GET("/:id/attachment/:filename", emails.Attachment)
		email.GET("/:id/source", emails.Source)
		email.GET("/:id/download", emails.Download)

		email.PATCH("/read-all", emails.MarkAllRead)
		email.PATCH("/:id/read", emails.MarkRead)

		email.DELETE("/all", emails.DeleteAll)
		email.DELETE("/:id", emails.Delete)

		email.POST("/:id/relay", emails.Relay)
	}

	return router
}
