package smtp

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
)

// Ingester 接收一封完整邮件。
type Ingester interface {
	Ingest(ctx context.Context, env domain.Envelope, r io.Reader) (*domain.Message, error)
}

// SessionMetrics SMTP 会话指标。
type SessionMetrics interface {
	SessionOpened()
	SessionClosed()
	SessionRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()         {}
func (noopMetrics) SessionClosed()         {}
func (noopMetrics) SessionRejected(string) {}

// Credentials 入站认证的用户名和密码。
type Credentials struct {
	Username string
	Password string
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个开发用的捕获服务器：接受任意收件人，邮件只保存不投递。
// 配置了 Credentials 时要求客户端先通过 AUTH PLAIN。
type Backend struct {
	ctx         context.Context
	ingester    Ingester
	limiter     *ConnectionLimiter
	credentials *Credentials
	metrics     SessionMetrics
	log         *zap.Logger
}

// BackendOption Backend 选项。
type BackendOption func(*Backend)

// WithLimiter 设置连接限流器。
func WithLimiter(l *ConnectionLimiter) BackendOption {
	return func(b *Backend) { b.limiter = l }
}

// WithCredentials 要求入站认证。
func WithCredentials(username, password string) BackendOption {
	return func(b *Backend) {
		if username != "" {
			b.credentials = &Credentials{Username: username, Password: password}
		}
	}
}

// WithMetrics 设置会话指标。
func WithMetrics(m SessionMetrics) BackendOption {
	return func(b *Backend) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(log *zap.Logger) BackendOption {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBackend 创建 SMTP Backend。ctx 取消时进行中的接收随之取消。
func NewBackend(ctx context.Context, ingester Ingester, opts ...BackendOption) *Backend {
	b := &Backend{
		ctx:      ctx,
		ingester: ingester,
		metrics:  noopMetrics{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if conn := c.Conn(); conn != nil && conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}

	if b.limiter != nil {
		if reason, ok := b.limiter.Acquire(); !ok {
			b.metrics.SessionRejected(reason)
			b.log.Warn("smtp connection rejected", zap.String("remote", remote), zap.String("reason", reason))
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
	}

	b.metrics.SessionOpened()
	return &session{
		backend:  b,
		hostname: c.Hostname(),
		remote:   remote,
		authed:   b.credentials == nil,
	}, nil
}

type session struct {
	backend  *Backend
	hostname string
	remote   string
	authed   bool
	closed   bool

	from       string
	recipients []string
}

var _ gosmtp.AuthSession = (*session)(nil)

// AuthMechanisms 配置了认证时只支持 PLAIN。
func (s *session) AuthMechanisms() []string {
	if s.backend.credentials == nil {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth 处理 AUTH 命令。
func (s *session) Auth(mech string) (sasl.Server, error) {
	creds := s.backend.credentials
	if creds == nil || mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return gosmtp.ErrAuthFailed
		}
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(creds.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(creds.Password)) == 1
		if !userOK || !passOK {
			s.backend.log.Warn("smtp authentication failed", zap.String("remote", s.remote), zap.String("username", username))
			return gosmtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，接受任意收件人。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authed {
		return gosmtp.ErrAuthRequired
	}
	addr := normalizeAddress(to)
	if addr == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 把邮件内容交给接收流程，成功时返回 250。
func (s *session) Data(r io.Reader) error {
	env := domain.Envelope{
		From:          s.from,
		To:            append([]string(nil), s.recipients...),
		Host:          s.hostname,
		RemoteAddress: s.remote,
	}

	msg, err := s.backend.ingester.Ingest(s.backend.ctx, env, r)
	if err != nil {
		s.backend.log.Warn("failed to ingest message",
			zap.String("remote", s.remote),
			zap.String("from", env.From),
			zap.Error(err))
		return smtpError(err)
	}

	s.backend.log.Debug("smtp message accepted", zap.String("id", msg.ID), zap.String("remote", s.remote))
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.backend.metrics.SessionClosed()
	return nil
}

// smtpError 把接收错误映射为 SMTP 响应码。
func smtpError(err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		// 例如 ErrDataTooLarge
		return smtpErr
	}

	switch {
	case errors.Is(err, domain.ErrParse):
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	case errors.Is(err, domain.ErrStream):
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 2},
			Message:      "error reading message data",
		}
	default:
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "local error storing message",
		}
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
