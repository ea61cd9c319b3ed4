package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck 单项检查结果
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthReport 健康报告
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	Version   string        `json:"version"`
}

// Probe 一项依赖探测，Critical 失败时整体为 unhealthy，否则为 degraded
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthChecker 汇总依赖探测生成报告
type HealthChecker struct {
	probes    []Probe
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger, version string, probes ...Probe) *HealthChecker {
	return &HealthChecker{
		probes:    probes,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hc.startTime),
		Version:   hc.version,
		Checks:    make([]HealthCheck, 0, len(hc.probes)+1),
	}

	overallStatus := HealthStatusHealthy
	for _, probe := range hc.probes {
		check := hc.run(ctx, probe)
		report.Checks = append(report.Checks, check)

		switch check.Status {
		case HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overallStatus != HealthStatusUnhealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}
	report.Checks = append(report.Checks, hc.checkRuntime())

	report.Status = overallStatus
	if overallStatus != HealthStatusHealthy {
		hc.logger.Warn("health check not healthy", zap.String("status", string(overallStatus)))
	}
	return report
}

func (hc *HealthChecker) run(ctx context.Context, probe Probe) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        probe.Name,
		LastChecked: start,
		Status:      HealthStatusHealthy,
	}

	if err := probe.Check(ctx); err != nil {
		check.Status = HealthStatusDegraded
		if probe.Critical {
			check.Status = HealthStatusUnhealthy
		}
		check.Message = fmt.Sprintf("%s check failed: %v", probe.Name, err)
	}

	check.Duration = time.Since(start)
	return check
}

// checkRuntime 报告协程数与堆内存，仅作参考不影响整体状态
func (hc *HealthChecker) checkRuntime() HealthCheck {
	start := time.Now()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HealthCheck{
		Name:        "runtime",
		Status:      HealthStatusHealthy,
		Message:     fmt.Sprintf("goroutines=%d heap=%.2fMB", runtime.NumGoroutine(), float64(m.Alloc)/1024/1024),
		Duration:    time.Since(start),
		LastChecked: start,
	}
}
