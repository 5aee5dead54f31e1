// Package smtp 通过上游 SMTP 服务器转发邮件。
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// 连接加密方式
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Config 上游 SMTP 配置
type Config struct {
	Host      string
	Port      int
	Username  string // 为空时不认证
	Password  string
	TLS       string // none、starttls 或 tls
	LocalName string // EHLO 主机名，默认 localhost

	// TLSConfig 为空时使用 ServerName=Host 的默认配置
	TLSConfig *tls.Config
}

// Transport SMTP 外发通道
type Transport struct {
	cfg Config
}

// New 创建 SMTP 外发通道
func New(cfg Config) *Transport {
	if cfg.TLS == "" {
		cfg.TLS = TLSNone
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &Transport{cfg: cfg}
}

// Name 返回通道名称
func (t *Transport) Name() string {
	return "smtp"
}

// Send 建立一次连接并发送原始邮件，ctx 取消时关闭连接
func (t *Transport) Send(ctx context.Context, from string, to []string, raw io.Reader) error {
	c, err := t.dial()
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.addr(), err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if t.cfg.TLS != TLSStartTLS && t.cfg.LocalName != "" {
		if err := c.Hello(t.cfg.LocalName); err != nil {
			return t.wrap(ctx, "hello", err)
		}
	}

	if t.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return t.wrap(ctx, "auth", err)
		}
	}

	if err := c.SendMail(from, to, raw); err != nil {
		return t.wrap(ctx, "send", err)
	}
	return c.Quit()
}

func (t *Transport) dial() (*gosmtp.Client, error) {
	switch t.cfg.TLS {
	case TLSImplicit:
		return gosmtp.DialTLS(t.addr(), t.cfg.TLSConfig)
	case TLSStartTLS:
		return gosmtp.DialStartTLS(t.addr(), t.cfg.TLSConfig)
	default:
		return gosmtp.Dial(t.addr())
	}
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *Transport) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
