package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// ServerConfig SMTP 服务器参数
type ServerConfig struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// NewServer 创建 go-smtp 服务器。
// 开发环境通常没有 TLS，因此允许明文认证。
func NewServer(cfg ServerConfig, be *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(be)
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	s.AllowInsecureAuth = true
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	return s
}
