package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailtrap/backend/internal/config"
	"mailtrap/backend/internal/service"
)

// ConfigHandler 运行配置API处理器
type ConfigHandler struct {
	cfg  *config.Config
	mail *service.MailService
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(cfg *config.Config, mail *service.MailService) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, mail: mail}
}

// configResponse 前端需要的运行配置，不包含任何密码
type configResponse struct {
	SMTPPort      string `json:"smtpPort"`
	SMTPDomain    string `json:"smtpDomain"`
	AuthRequired  bool   `json:"authRequired"`
	BasePath      string `json:"basePath"`
	RelayEnabled  bool   `json:"relayEnabled"`
	RelayMode     string `json:"relayMode"`
	AutoRelay     bool   `json:"autoRelay"`
	MessageCount  int    `json:"messageCount"`
	MailDirectory string `json:"mailDirectory"`
}

// GetConfig 获取运行配置
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	Success(c, configResponse{
		SMTPPort:      h.cfg.SMTPListenPort(),
		SMTPDomain:    h.cfg.SMTP.Domain,
		AuthRequired:  h.cfg.SMTP.IncomingUser != "",
		BasePath:      h.cfg.Server.BasePath,
		RelayEnabled:  h.mail.RelayEnabled(),
		RelayMode:     h.cfg.Relay.Mode,
		AutoRelay:     h.cfg.Relay.AutoRelay,
		MessageCount:  len(h.mail.List()),
		MailDirectory: h.cfg.Storage.MailDirectory,
	})
}
