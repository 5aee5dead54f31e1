package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/service"
)

const publishTimeout = 3 * time.Second

// Publisher 发布消息到频道，由 storage/redis.Client 实现
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisNotifier 把邮件事件以 JSON 发布到 Redis 频道
type RedisNotifier struct {
	publisher Publisher
	channel   string
	runner    TaskRunner
	log       *zap.Logger
	now       func() time.Time
}

var _ service.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier 创建 Redis 事件发布器
func NewRedisNotifier(publisher Publisher, channel string, runner TaskRunner, log *zap.Logger) *RedisNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisNotifier{
		publisher: publisher,
		channel:   channel,
		runner:    runner,
		log:       log,
		now:       time.Now,
	}
}

func (n *RedisNotifier) OnNewMessage(message *domain.Message) {
	n.publish(Event{Type: EventNew, ID: message.ID, Message: message})
}

func (n *RedisNotifier) OnDeleted(id string) {
	n.publish(Event{Type: EventDelete, ID: id})
}

func (n *RedisNotifier) OnDeletedAll() {
	n.publish(Event{Type: EventDeleteAll})
}

func (n *RedisNotifier) publish(ev Event) {
	ev.Time = n.now()
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	ok := n.runner.TrySubmit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
			n.log.Warn("failed to publish event",
				zap.String("channel", n.channel),
				zap.String("type", ev.Type),
				zap.Error(err))
		}
	})
	if !ok {
		n.log.Warn("event queue full, redis event dropped", zap.String("type", ev.Type))
	}
}
