package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/idgen"
	"mailtrap/backend/internal/ingest"
)

// Cleaner 删除一封邮件在磁盘上的所有文件。
type Cleaner interface {
	RemoveMessage(id string) error
}

// Relayer 把邮件原始内容投递到外部 SMTP 服务。
type Relayer interface {
	Relay(ctx context.Context, message *domain.Message, raw io.Reader, recipients []string) error
}

// RelayOptions 手动转发参数，To 为空时使用信封收件人。
type RelayOptions struct {
	To []string
}

// MailService 封装邮件接收、查询、删除与转发逻辑。
type MailService struct {
	store     domain.MessageStore
	files     Cleaner
	assembler *ingest.Assembler
	ids       idgen.Generator
	relayer   Relayer
	metrics   Metrics
	log       *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier
}

// Option 邮件服务选项。
type Option func(*MailService)

// WithIDGenerator 替换邮件 ID 生成器。
func WithIDGenerator(ids idgen.Generator) Option {
	return func(s *MailService) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithRelayer 设置转发器，未设置时 Relay 返回 ErrRelayDisabled。
func WithRelayer(relayer Relayer) Option {
	return func(s *MailService) {
		s.relayer = relayer
	}
}

// WithMetrics 设置指标记录器。
func WithMetrics(metrics Metrics) Option {
	return func(s *MailService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(log *zap.Logger) Option {
	return func(s *MailService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewMailService 创建邮件服务。
func NewMailService(store domain.MessageStore, files Cleaner, assembler *ingest.Assembler, opts ...Option) *MailService {
	s := &MailService{
		store:     store,
		files:     files,
		assembler: assembler,
		ids:       idgen.New(),
		metrics:   noopMetrics{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe 注册事件接收者。
func (s *MailService) Subscribe(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// RelayEnabled 报告是否配置了转发器。
func (s *MailService) RelayEnabled() bool {
	return s.relayer != nil
}

// ========== 接收 ==========

// Ingest 读取一封入站邮件，组装后加入索引。
// 失败时删除已写入的文件，邮件不会出现在列表中。
func (s *MailService) Ingest(ctx context.Context, env domain.Envelope, r io.Reader) (*domain.Message, error) {
	id := s.ids.NewID()
	start := s.now()

	// 已索引的 ID 在任何 I/O 之前拒绝，不能触碰原邮件的文件
	if _, err := s.store.Get(id); err == nil {
		return nil, s.rejectDuplicate(id, nil)
	}

	message, err := s.assembler.Assemble(ctx, id, env, r)
	if err != nil {
		// 文件已存在说明另一封同 ID 邮件正在写入或已完成
		if errors.Is(err, fs.ErrExist) {
			return nil, s.rejectDuplicate(id, err)
		}
		s.cleanup(id)
		s.metrics.RecordIngestFailure(failureKind(err))
		return nil, err
	}

	if err := s.store.Put(message); err != nil {
		if !errors.Is(err, domain.ErrDuplicateID) {
			s.cleanup(id)
		}
		s.metrics.RecordIngestFailure(failureKind(err))
		return nil, err
	}

	s.metrics.RecordReceived(message.Size, len(message.Attachments), s.now().Sub(start))
	s.metrics.SetStoredMessages(s.store.Count())
	s.log.Info("message received",
		zap.String("id", id),
		zap.String("from", env.From),
		zap.Strings("to", env.To),
		zap.String("subject", message.Subject),
		zap.Int64("size", message.Size))

	s.notify(func(n Notifier) { n.OnNewMessage(message.Clone()) })
	return message, nil
}

func (s *MailService) rejectDuplicate(id string, cause error) error {
	s.metrics.RecordIngestFailure(failureKind(domain.ErrDuplicateID))
	s.log.Warn("rejected message with duplicate id", zap.String("id", id))
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDuplicateID, id, cause)
	}
	return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
}

func (s *MailService) cleanup(id string) {
	if err := s.files.RemoveMessage(id); err != nil {
		s.log.Warn("failed to remove files of failed message", zap.String("id", id), zap.Error(err))
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrStream):
		return "stream"
	case errors.Is(err, domain.ErrSink):
		return "sink"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, domain.ErrDuplicateID):
		return "duplicate"
	default:
		return "unknown"
	}
}

// ========== 查询 ==========

// List 按完成顺序列出所有邮件。
func (s *MailService) List() []*domain.Message {
	return s.store.List()
}

// Search 按条件搜索邮件。
func (s *MailService) Search(criteria domain.SearchCriteria) *domain.SearchResult {
	return s.store.Search(criteria)
}

// Get 获取单封邮件。
func (s *MailService) Get(id string) (*domain.Message, error) {
	return s.store.Get(id)
}

// GetRaw 打开邮件原始内容。
func (s *MailService) GetRaw(id string) (io.ReadCloser, error) {
	return s.store.RawReader(id)
}

// GetAttachment 打开附件，返回内容类型。
func (s *MailService) GetAttachment(id, generatedFileName string) (string, io.ReadCloser, error) {
	return s.store.AttachmentReader(id, generatedFileName)
}

var cidReference = regexp.MustCompile(`(?i)cid:([^"'\s)>]+)`)

// GetEmailHTML 返回邮件 HTML，cid: 引用被改写为附件地址。
// 没有 HTML 正文时使用由纯文本转换的 HTML。
func (s *MailService) GetEmailHTML(id, baseURL string) (string, error) {
	message, err := s.store.Get(id)
	if err != nil {
		return "", err
	}

	html := message.HTML
	if html == "" {
		html = message.TextAsHTML
	}

	targets := make(map[string]string, len(message.Attachments))
	base := strings.TrimSuffix(baseURL, "/")
	for _, att := range message.Attachments {
		if att.ContentID == "" {
			continue
		}
		targets[strings.ToLower(att.ContentID)] = fmt.Sprintf("%s/email/%s/attachment/%s",
			base, url.PathEscape(message.ID), url.PathEscape(att.GeneratedFileName))
	}
	if len(targets) == 0 {
		return html, nil
	}

	return cidReference.ReplaceAllStringFunc(html, func(ref string) string {
		cid := strings.Trim(ref[len("cid:"):], "<>")
		if target, ok := targets[strings.ToLower(cid)]; ok {
			return target
		}
		return ref
	}), nil
}

// ========== 状态 ==========

// MarkRead 标记单封邮件为已读。
func (s *MailService) MarkRead(id string) error {
	return s.store.MarkRead(id)
}

// MarkAllRead 标记所有邮件为已读，返回改变的数量。
func (s *MailService) MarkAllRead() int {
	return s.store.MarkAllRead()
}

// ========== 删除 ==========

// Delete 删除单封邮件。文件清理失败时仍通知删除事件并返回 *domain.PartialDeleteError。
func (s *MailService) Delete(id string) error {
	err := s.store.Delete(id)
	if err != nil && !domain.IsPartialDelete(err) {
		return err
	}

	s.metrics.RecordDeleted(1)
	s.metrics.SetStoredMessages(s.store.Count())
	s.log.Info("message deleted", zap.String("id", id))
	s.notify(func(n Notifier) { n.OnDeleted(id) })
	return err
}

// DeleteAll 删除所有邮件，返回删除数量。
func (s *MailService) DeleteAll() (int, error) {
	count, err := s.store.DeleteAll()
	if err != nil && !domain.IsPartialDelete(err) {
		return count, err
	}

	s.metrics.RecordDeleted(count)
	s.metrics.SetStoredMessages(s.store.Count())
	s.log.Info("all messages deleted", zap.Int("count", count))
	s.notify(func(n Notifier) { n.OnDeletedAll() })
	return count, err
}

// ========== 转发 ==========

// Relay 把已保存的邮件转发到外部 SMTP 服务。
func (s *MailService) Relay(ctx context.Context, id string, opts RelayOptions) error {
	if s.relayer == nil {
		return domain.ErrRelayDisabled
	}

	message, err := s.store.Get(id)
	if err != nil {
		return err
	}

	recipients := opts.To
	if len(recipients) == 0 {
		recipients = message.Envelope.To
	}
	if len(recipients) == 0 {
		return fmt.Errorf("%w: message %s has no recipients", domain.ErrRelayRejected, id)
	}

	raw, err := s.store.RawReader(id)
	if err != nil {
		return err
	}
	defer raw.Close()

	err = s.relayer.Relay(ctx, message, raw, recipients)
	s.metrics.RecordRelayed(err == nil)
	if err != nil {
		s.log.Warn("relay failed", zap.String("id", id), zap.Strings("to", recipients), zap.Error(err))
		return err
	}
	s.log.Info("message relayed", zap.String("id", id), zap.Strings("to", recipients))
	return nil
}

func (s *MailService) notify(fn func(Notifier)) {
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.RUnlock()

	for _, n := range notifiers {
		s.safeNotify(n, fn)
	}
}

func (s *MailService) safeNotify(n Notifier, fn func(Notifier)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notifier panic", zap.Any("panic", r))
		}
	}()
	fn(n)
}
