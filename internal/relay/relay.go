// Package relay 把捕获的邮件转发到真实的邮件服务。
package relay

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
)

// Transport 外发通道，例如 SMTP 或 AWS SES。
type Transport interface {
	// Send 把原始邮件投递给 to 中的每个地址。
	Send(ctx context.Context, from string, to []string, raw io.Reader) error
	// Name 返回通道名称。
	Name() string
}

// Relayer 校验收件人后通过 Transport 发送原始邮件。
type Relayer struct {
	transport Transport
	validator *domain.EmailValidator
	log       *zap.Logger
}

// NewRelayer 创建转发器。
func NewRelayer(transport Transport, log *zap.Logger) *Relayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relayer{
		transport: transport,
		validator: domain.NewEmailValidator(),
		log:       log,
	}
}

// Relay 发送邮件，发件人使用信封中的 MAIL FROM。
func (r *Relayer) Relay(ctx context.Context, message *domain.Message, raw io.Reader, recipients []string) error {
	for _, addr := range recipients {
		if err := r.validator.ValidateEmail(addr); err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrRelayRejected, addr, err)
		}
	}

	if err := r.transport.Send(ctx, message.Envelope.From, recipients, raw); err != nil {
		return fmt.Errorf("relay via %s: %w", r.transport.Name(), err)
	}
	r.log.Debug("relay delivered",
		zap.String("id", message.ID),
		zap.String("transport", r.transport.Name()),
		zap.Int("recipients", len(recipients)))
	return nil
}
