// Package notify 把邮件事件分发到外部系统：Redis 频道和 Maildir 目录。
package notify

import (
	"context"
	"time"

	"mailtrap/backend/internal/domain"
)

// 事件类型
const (
	EventNew       = "new"
	EventDelete    = "delete"
	EventDeleteAll = "delete_all"
)

// Event 邮件事件
type Event struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Time    time.Time       `json:"time"`
}

// TaskRunner 异步执行任务，通常是 pool.WorkerPool
type TaskRunner interface {
	TrySubmit(task func(ctx context.Context)) bool
}
