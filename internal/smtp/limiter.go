package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// 拒绝原因，用作指标标签
const (
	RejectMaxConnections = "max_connections"
	RejectRate           = "rate"
)

// ConnectionLimiter SMTP 连接限流器
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数，0 表示不限制
//   - perSecond: 每秒最大新建连接数，0 表示不限制
//   - burst: 突发上限
func NewConnectionLimiter(maxConns int, perSecond float64, burst int) *ConnectionLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(limit, burst),
	}
}

// Acquire 获取连接许可，失败时返回拒绝原因
func (l *ConnectionLimiter) Acquire() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 检查连接数限制
	if l.maxConns > 0 && l.current >= l.maxConns {
		return RejectMaxConnections, false
	}

	// 检查速率限制
	if !l.rate.Allow() {
		return RejectRate, false
	}

	l.current++
	return "", true
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
