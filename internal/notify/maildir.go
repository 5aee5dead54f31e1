package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-maildir"
	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/service"
)

// RawSource 按 ID 打开邮件原始内容
type RawSource interface {
	GetRaw(id string) (io.ReadCloser, error)
}

// MaildirExporter 把每封新邮件复制到 Maildir 的 new/ 目录，供邮件客户端直接打开
type MaildirExporter struct {
	dir    maildir.Dir
	source RawSource
	runner TaskRunner
	log    *zap.Logger
}

var _ service.Notifier = (*MaildirExporter)(nil)

// NewMaildirExporter 创建导出器，目录不存在时初始化
func NewMaildirExporter(path string, source RawSource, runner TaskRunner, log *zap.Logger) (*MaildirExporter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("create maildir %s: %w", path, err)
		}
		if err := dir.Init(); err != nil {
			return nil, fmt.Errorf("init maildir %s: %w", path, err)
		}
	}

	return &MaildirExporter{dir: dir, source: source, runner: runner, log: log}, nil
}

// OnNewMessage 异步导出新邮件
func (e *MaildirExporter) OnNewMessage(message *domain.Message) {
	id := message.ID
	ok := e.runner.TrySubmit(func(context.Context) {
		if err := e.Export(id); err != nil {
			e.log.Warn("maildir export failed", zap.String("id", id), zap.Error(err))
		}
	})
	if !ok {
		e.log.Warn("export queue full, message not exported", zap.String("id", id))
	}
}

// 导出的邮件不随删除而移除
func (e *MaildirExporter) OnDeleted(string) {}

func (e *MaildirExporter) OnDeletedAll() {}

// Export 把一封邮件写入 Maildir
func (e *MaildirExporter) Export(id string) error {
	raw, err := e.source.GetRaw(id)
	if err != nil {
		return err
	}
	defer raw.Close()

	delivery, err := maildir.NewDelivery(string(e.dir))
	if err != nil {
		return err
	}
	if _, err := io.Copy(delivery, raw); err != nil {
		_ = delivery.Abort()
		return err
	}
	return delivery.Close()
}
