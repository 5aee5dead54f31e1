package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host      string // 监听地址，默认 "0.0.0.0"
	Port      int    // 监听端口，默认 1080
	BasePath  string // Web 接口路径前缀，默认为空
	PublicURL string // 对外访问地址，用于改写 cid: 引用；为空时根据请求推断
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string        // SMTP 服务监听地址，格式 "host:port"，默认 ":1025"
	Domain          string        // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxMessageBytes int64         // 单封邮件最大字节数
	MaxRecipients   int           // 单封邮件最大收件人数
	ReadTimeout     time.Duration // 读超时
	WriteTimeout    time.Duration // 写超时
	IncomingUser    string        // 入站 AUTH 用户名，为空表示不需要认证
	IncomingPass    string        // 入站 AUTH 密码
	MaxConnections  int           // 最大并发会话数，0 表示不限制
	ConnectionRate  float64       // 每秒允许的新会话数，0 表示不限制
	ConnectionBurst int           // 新会话突发上限
}

// StorageConfig 定义邮件文件存储配置
type StorageConfig struct {
	MailDirectory string // 邮件文件根目录
	RemoveOnStart bool   // 启动时清空邮件目录
}

// RelayConfig 定义外发转发配置
type RelayConfig struct {
	Mode      string   // 转发方式: "off"、"smtp" 或 "ses"
	Host      string   // 上游 SMTP 地址
	Port      int      // 上游 SMTP 端口
	User      string   // 上游认证用户名
	Pass      string   // 上游认证密码
	TLS       string   // "none"、"starttls" 或 "tls"
	AutoRelay bool     // 收到邮件后自动转发
	AutoRules []string // 自动转发规则，如 "allow:*@example.com"、"deny:*"
	Workers   int      // 转发协程数
	QueueSize int      // 转发队列长度
	SESRegion string   // AWS SES 区域
	SESKey    string   // AWS 访问密钥 ID，为空时使用默认凭据链
	SESSecret string   // AWS 访问密钥
	SESSender string   // SES 发件人覆盖
}

// Enabled 报告是否启用了转发
func (r RelayConfig) Enabled() bool {
	return r.Mode != "" && r.Mode != "off"
}

// RedisConfig 定义 Redis 事件发布配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，为空表示不发布
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Channel  string // 发布频道
}

// ExportConfig 定义 Maildir 导出配置
type ExportConfig struct {
	MaildirPath string // Maildir 目录，为空表示不导出
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件，为空表示只输出到控制台
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server  ServerConfig  // HTTP 服务器配置
	SMTP    SMTPConfig    // SMTP 服务配置
	Storage StorageConfig // 邮件存储配置
	Relay   RelayConfig   // 转发配置
	Redis   RedisConfig   // Redis 配置
	Export  ExportConfig  // Maildir 导出配置
	CORS    CORSConfig    // 跨域配置
	Log     LogConfig     // 日志配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILTRAP_
// 例如: MAILTRAP_SMTP_BIND_ADDR, MAILTRAP_RELAY_MODE
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailtrap")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	readTimeout, err := time.ParseDuration(v.GetString("smtp.read_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(v.GetString("smtp.write_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.write_timeout: %w", err)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:      v.GetString("server.host"),
			Port:      v.GetInt("server.port"),
			BasePath:  strings.TrimSuffix(v.GetString("server.base_path"), "/"),
			PublicURL: strings.TrimSuffix(v.GetString("server.public_url"), "/"),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          v.GetString("smtp.domain"),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   v.GetInt("smtp.max_recipients"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			IncomingUser:    v.GetString("smtp.incoming_user"),
			IncomingPass:    v.GetString("smtp.incoming_pass"),
			MaxConnections:  v.GetInt("smtp.max_connections"),
			ConnectionRate:  v.GetFloat64("smtp.connection_rate"),
			ConnectionBurst: v.GetInt("smtp.connection_burst"),
		},
		Storage: StorageConfig{
			MailDirectory: v.GetString("storage.mail_directory"),
			RemoveOnStart: v.GetBool("storage.remove_on_start"),
		},
		Relay: RelayConfig{
			Mode:      strings.ToLower(v.GetString("relay.mode")),
			Host:      v.GetString("relay.host"),
			Port:      v.GetInt("relay.port"),
			User:      v.GetString("relay.user"),
			Pass:      v.GetString("relay.pass"),
			TLS:       strings.ToLower(v.GetString("relay.tls")),
			AutoRelay: v.GetBool("relay.auto_relay"),
			AutoRules: parseList(v.GetString("relay.auto_rules")),
			Workers:   v.GetInt("relay.workers"),
			QueueSize: v.GetInt("relay.queue_size"),
			SESRegion: v.GetString("relay.ses_region"),
			SESKey:    v.GetString("relay.ses_key"),
			SESSecret: v.GetString("relay.ses_secret"),
			SESSender: v.GetString("relay.ses_sender"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Export: ExportConfig{
			MaildirPath: v.GetString("export.maildir_path"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1080)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.public_url", "")
	v.SetDefault("smtp.bind_addr", ":1025")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", 25*1024*1024)
	v.SetDefault("smtp.max_recipients", 100)
	v.SetDefault("smtp.read_timeout", "60s")
	v.SetDefault("smtp.write_timeout", "60s")
	v.SetDefault("smtp.incoming_user", "")
	v.SetDefault("smtp.incoming_pass", "")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.connection_rate", 0)
	v.SetDefault("smtp.connection_burst", 20)
	v.SetDefault("storage.mail_directory", filepath.Join(os.TempDir(), "mailtrap"))
	v.SetDefault("storage.remove_on_start", false)
	v.SetDefault("relay.mode", "off")
	v.SetDefault("relay.port", 25)
	v.SetDefault("relay.tls", "none")
	v.SetDefault("relay.auto_relay", false)
	v.SetDefault("relay.auto_rules", "")
	v.SetDefault("relay.workers", 2)
	v.SetDefault("relay.queue_size", 100)
	v.SetDefault("relay.ses_region", "us-east-1")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "mailtrap:events")
	v.SetDefault("export.maildir_path", "")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

// Validate 检查配置之间的约束
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if _, _, err := net.SplitHostPort(c.SMTP.BindAddr); err != nil {
		return fmt.Errorf("invalid smtp.bind_addr %q: %w", c.SMTP.BindAddr, err)
	}
	if c.SMTP.MaxMessageBytes <= 0 {
		return fmt.Errorf("smtp.max_message_bytes must be positive")
	}
	if (c.SMTP.IncomingUser == "") != (c.SMTP.IncomingPass == "") {
		return fmt.Errorf("smtp.incoming_user and smtp.incoming_pass must be set together")
	}
	if strings.TrimSpace(c.Storage.MailDirectory) == "" {
		return fmt.Errorf("storage.mail_directory must not be empty")
	}

	switch c.Relay.Mode {
	case "", "off":
	case "smtp":
		if c.Relay.Host == "" {
			return fmt.Errorf("relay.host is required when relay.mode is smtp")
		}
		switch c.Relay.TLS {
		case "none", "starttls", "tls":
		default:
			return fmt.Errorf("invalid relay.tls: %q", c.Relay.TLS)
		}
	case "ses":
		if c.Relay.SESRegion == "" {
			return fmt.Errorf("relay.ses_region is required when relay.mode is ses")
		}
	default:
		return fmt.Errorf("invalid relay.mode: %q", c.Relay.Mode)
	}
	if c.Relay.AutoRelay && !c.Relay.Enabled() {
		return fmt.Errorf("relay.auto_relay requires relay.mode")
	}
	return nil
}

// SMTPListenPort 返回 SMTP 监听端口，便于展示
func (c *Config) SMTPListenPort() string {
	_, port, _ := net.SplitHostPort(c.SMTP.BindAddr)
	return port
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
