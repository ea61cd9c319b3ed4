package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 将函数适配为 Pinger
type PingerFunc func(ctx context.Context) error

// Ping 调用函数本身
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 健康检查器，liveness 只看进程自身，readiness 检查外部依赖
type HealthChecker struct {
	health  healthcheck.Handler
	logger  *zap.Logger
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		logger:  logger,
		timeout: 2 * time.Second,
	}

	// 协程泄漏时重启进程
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	return hc
}

// AddReadinessCheck 注册依赖探测，失败时 /health/ready 返回 503
func (hc *HealthChecker) AddReadinessCheck(name string, pinger Pinger) {
	hc.health.AddReadinessCheck(name, hc.pingCheck(name, pinger))
}

func (hc *HealthChecker) pingCheck(name string, pinger Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 返回存活探针处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪探针处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}
