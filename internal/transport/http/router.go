package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	forwarding *service.ForwardingService
	ingest     *service.IngestService
	slots      *service.SlotAllocator
	schema     *webhookSchema
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	ForwardingService *service.ForwardingService
	IngestService     *service.IngestService
	SlotAllocator     *service.SlotAllocator
	JWTManager        *jwtpkg.Manager // 为 nil 时不启用调用方认证
	Metrics           *monitoring.Metrics
	Probes            *health.HealthChecker     // 存活与就绪探针
	HealthReport      *monitoring.HealthChecker // 依赖状态汇总
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	schema, err := newWebhookSchema(deps.Config.Ingest.SourcePrefix)
	if err != nil {
		return nil, err
	}

	handler := &Handler{
		forwarding: deps.ForwardingService,
		ingest:     deps.IngestService,
		slots:      deps.SlotAllocator,
		schema:     schema,
	}

	router := gin.New()
	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		report := deps.HealthReport.CheckHealth(ctx)
		status := http.StatusOK
		if report.Status == monitoring.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	router.GET("/health/live", gin.WrapF(deps.Probes.LiveHandler()))
	router.GET("/health/ready", gin.WrapF(deps.Probes.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 调用方认证：配置了 JWT 密钥时用户 ID 以令牌为准
	callerAuth := func(c *gin.Context) { c.Next() }
	if deps.JWTManager != nil {
		callerAuth = middleware.NewJWTAuth(deps.JWTManager, deps.Logger).RequireAuth()
	}
	jsonOnly := middleware.ValidateContentType("application/json")

	v1 := router.Group("/v1")
	{
		// ========== Webhook Routes ==========
		webhookAuth := middleware.NewWebhookAuth(&deps.Config.Ingest, deps.Logger)
		v1.POST("/webhooks/mail", webhookAuth.Handler(), handler.receiveMail)

		// ========== Forwarding Routes ==========
		forwardingRoutes := v1.Group("/forwarding-requests")
		forwardingRoutes.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))
		{
			forwardingRoutes.POST("", jsonOnly, callerAuth, handler.createForwarding)
			forwardingRoutes.GET("/:id", callerAuth, handler.getForwarding)
			forwardingRoutes.POST("/:id/transition", jsonOnly, handler.transitionForwarding) // 运营人员，由网关鉴权
		}

		// ========== Address Slot Routes ==========
		slotRoutes := v1.Group("/address-slots")
		slotRoutes.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit), jsonOnly)
		{
			slotRoutes.POST("/claim", callerAuth, handler.claimSlot)
			slotRoutes.POST("/release", handler.releaseSlot) // 运营人员，由网关鉴权
		}
		v1.POST("/locations/:locationId/address-slots",
			middleware.BodySizeLimit(middleware.SmallBodyLimit), jsonOnly, handler.addSlots)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   errorNotFound,
			Reason:  "route_not_found",
			Message: fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})

	return router, nil
}
