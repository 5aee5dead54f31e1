// Package ses 通过 AWS SES v2 转发原始邮件。
package ses

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	baseRetryDelay = time.Second
)

// Config SES 配置
type Config struct {
	Region          string
	AccessKeyID     string // 为空时使用默认凭据链
	SecretAccessKey string
	Sender          string // 不为空时覆盖信封发件人
}

// SendEmailAPI SES v2 SendEmail 接口，测试时替换为模拟实现
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport SES 外发通道
type Transport struct {
	sender    string
	client    SendEmailAPI
	baseDelay time.Duration
	log       *zap.Logger
}

// New 加载 AWS 配置并创建 SES 外发通道
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), log), nil
}

// NewWithClient 使用指定客户端创建 SES 外发通道
func NewWithClient(sender string, client SendEmailAPI, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		sender:    sender,
		client:    client,
		baseDelay: baseRetryDelay,
		log:       log,
	}
}

// Name 返回通道名称
func (t *Transport) Name() string {
	return "ses"
}

// Send 以 Raw 格式发送，失败时按指数退避重试
func (t *Transport) Send(ctx context.Context, from string, to []string, raw io.Reader) error {
	data, err := io.ReadAll(raw)
	if err != nil {
		return fmt.Errorf("read raw message: %w", err)
	}

	if t.sender != "" {
		from = t.sender
	}
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: data},
		},
	}
	if from != "" {
		input.FromEmailAddress = aws.String(from)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, t.backoff(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := t.client.SendEmail(ctx, input)
		if err == nil {
			t.log.Debug("ses message sent", zap.String("messageId", aws.ToString(out.MessageId)))
			return nil
		}
		lastErr = err
		t.log.Warn("ses send failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("ses request failed after %d retries: %w", maxRetries, lastErr)
}

func (t *Transport) backoff(attempt int) time.Duration {
	return t.baseDelay << (attempt - 1)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
