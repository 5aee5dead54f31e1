package relay

import (
	"context"

	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/service"
)

// TaskRunner 异步执行任务，通常是 pool.WorkerPool。
type TaskRunner interface {
	TrySubmit(task func(ctx context.Context)) bool
}

// MessageRelayer 按 ID 转发已保存的邮件。
type MessageRelayer interface {
	Relay(ctx context.Context, id string, opts service.RelayOptions) error
}

// AutoRelay 收到新邮件后按规则自动转发。
// 转发在协程池中执行，队列已满时丢弃并记录日志，不阻塞接收。
type AutoRelay struct {
	relayer MessageRelayer
	rules   *Rules
	runner  TaskRunner
	log     *zap.Logger
}

var _ service.Notifier = (*AutoRelay)(nil)

// NewAutoRelay 创建自动转发器。
func NewAutoRelay(relayer MessageRelayer, rules *Rules, runner TaskRunner, log *zap.Logger) *AutoRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &AutoRelay{relayer: relayer, rules: rules, runner: runner, log: log}
}

// OnNewMessage 过滤信封收件人并提交转发任务。
func (a *AutoRelay) OnNewMessage(message *domain.Message) {
	to := a.rules.Filter(message.Envelope.To)
	if len(to) == 0 {
		a.log.Debug("auto relay skipped, no recipient allowed", zap.String("id", message.ID))
		return
	}

	id := message.ID
	ok := a.runner.TrySubmit(func(ctx context.Context) {
		if err := a.relayer.Relay(ctx, id, service.RelayOptions{To: to}); err != nil {
			a.log.Warn("auto relay failed", zap.String("id", id), zap.Error(err))
		}
	})
	if !ok {
		a.log.Warn("auto relay queue full, message dropped", zap.String("id", id))
	}
}

func (a *AutoRelay) OnDeleted(string) {}

func (a *AutoRelay) OnDeletedAll() {}
