package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// StorageChecker 可检查写入能力的存储
type StorageChecker interface {
	Health() error
}

// Pinger 可探测连接的外部依赖，例如 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	checks  map[string]healthcheck.Check
	order   []string
	logger  *zap.Logger
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器，存储目录可写为存活条件
func NewHealthChecker(store StorageChecker, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		checks:  make(map[string]healthcheck.Check),
		logger:  logger,
		timeout: 2 * time.Second,
	}

	hc.addLiveness("storage", store.Health)
	hc.addLiveness("goroutines", healthcheck.GoroutineCountCheck(10000))

	return hc
}

// AddSMTPCheck 就绪条件：SMTP 端口可连接
func (hc *HealthChecker) AddSMTPCheck(addr string) {
	hc.addReadiness("smtp", healthcheck.TCPDialCheck(addr, hc.timeout))
}

// AddPingCheck 就绪条件：外部依赖可连接
func (hc *HealthChecker) AddPingCheck(name string, p Pinger) {
	hc.addReadiness(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()
		return p.Ping(ctx)
	}, hc.timeout))
}

func (hc *HealthChecker) addLiveness(name string, check healthcheck.Check) {
	hc.health.AddLivenessCheck(name, check)
	hc.register(name, check)
}

func (hc *HealthChecker) addReadiness(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
	hc.register(name, check)
}

func (hc *HealthChecker) register(name string, check healthcheck.Check) {
	if _, exists := hc.checks[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checks[name] = check
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行所有检查并返回结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string, len(hc.order)+1)

	for _, name := range hc.order {
		if err := hc.checks[name](); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
			continue
		}
		results[name] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
