// Package ingest 把一条入站 SMTP 数据流组装成 domain.Message。
//
// 入站字节同时写入原始邮件文件和 MIME 解析器；每个附件在独立的 goroutine 中
// 写入自己的文件。Assemble 在原始流写完、解析结束、所有附件文件关闭之后才返回。
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/mimeparse"
)

// OutputStreams 为一封邮件提供输出流。
type OutputStreams interface {
	// RawSink 返回 <id>.eml 的位置与写入器。
	RawSink(id string) (string, io.WriteCloser, error)
	// AttachmentSink 返回附件文件的位置与写入器，目录按需创建。
	AttachmentSink(id, generatedFileName string) (string, io.WriteCloser, error)
}

// Assembler 邮件组装器，可被多个会话并发使用。
type Assembler struct {
	streams OutputStreams
	log     *zap.Logger
	now     func() time.Time
}

// Option 组装器选项。
type Option func(*Assembler)

// WithLogger 设置日志记录器。
func WithLogger(log *zap.Logger) Option {
	return func(a *Assembler) {
		if log != nil {
			a.log = log
		}
	}
}

// WithClock 替换时间来源，测试中用于固定接收时间。
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAssembler 创建组装器。
func NewAssembler(streams OutputStreams, opts ...Option) *Assembler {
	a := &Assembler{
		streams: streams,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble 消费 src 并返回组装好的邮件。
//
// 返回即完成信号：成功时原始流已全部写入 Source，解析器已发出结束事件，
// 所有附件文件都已关闭。失败时已打开的输出流都会被关闭，磁盘文件由调用方清理。
func (a *Assembler) Assemble(ctx context.Context, id string, env domain.Envelope, src io.Reader) (*domain.Message, error) {
	receivedAt := a.now()
	msg := &domain.Message{
		ID:          id,
		Envelope:    env,
		ReceivedAt:  receivedAt,
		Headers:     map[string][]string{},
		Attachments: []*domain.Attachment{},
	}

	location, raw, err := a.streams.RawSink(id)
	if err != nil {
		return nil, &domain.SinkError{Location: location, Err: err}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: nil raw sink for message %s", domain.ErrConfiguration, id)
	}
	msg.Source = location

	g, gctx := errgroup.WithContext(ctx)
	failures := &failureSet{}
	pr, pw := io.Pipe()
	rawOut := &sinkWriter{w: raw, location: location}

	// 泵：源 -> 原始文件 + 解析管道。管道是同步的，最慢的消费者决定读取速度。
	g.Go(func() error {
		_, copyErr := io.Copy(io.MultiWriter(rawOut, pw), &streamReader{ctx: gctx, r: src})
		closeErr := raw.Close()
		if copyErr != nil {
			pw.CloseWithError(copyErr)
			return failures.add(copyErr)
		}
		pw.Close()
		if closeErr != nil {
			return failures.add(&domain.SinkError{Location: location, Err: closeErr})
		}
		return nil
	})

	asm := &assembly{
		msg:      msg,
		streams:  a.streams,
		group:    g,
		failures: failures,
		names:    newNameSet(),
		log:      a.log,
	}

	// 解析器：本身属于同一个 errgroup，附件任务在它返回之前加入，计数不会提前归零。
	g.Go(func() error {
		if err := mimeparse.Parse(gctx, pr, asm); err != nil {
			pr.CloseWithError(err)
			return failures.add(err)
		}
		// 解析器不一定读完结尾部分，剩余字节仍需排空，否则泵会阻塞。
		if _, err := io.Copy(io.Discard, pr); err != nil {
			return failures.add(err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		failure := failures.primary(err)
		a.log.Warn("message assembly failed",
			zap.String("id", id),
			zap.Int64("bytes", rawOut.n),
			zap.Error(failure))
		return nil, failure
	}

	msg.Size = rawOut.n
	msg.SizeHuman = humanize.Bytes(uint64(msg.Size))

	a.log.Debug("message assembled",
		zap.String("id", id),
		zap.Int64("size", msg.Size),
		zap.Int("attachments", len(msg.Attachments)),
		zap.Duration("elapsed", a.now().Sub(receivedAt)))

	return msg, nil
}

// assembly 单封邮件的组装状态，实现 mimeparse.Handler。
// 除附件的 Checksum/Size 外，所有字段只在解析 goroutine 中修改。
type assembly struct {
	msg      *domain.Message
	streams  OutputStreams
	group    *errgroup.Group
	failures *failureSet
	names    *nameSet
	log      *zap.Logger
}

func (s *assembly) OnHeaders(h *mimeparse.Headers) error {
	s.msg.Headers = h.Fields()
	applyHeaderRules(s.msg, h)
	return nil
}

func (s *assembly) OnText(body mimeparse.TextBody) error {
	if body.Text != "" {
		s.msg.Text = body.Text
		s.msg.TextAsHTML = TextToHTML(body.Text)
	}
	if body.HTML != "" {
		s.msg.HTML = StripScripts(body.HTML)
	}
	return nil
}

func (s *assembly) OnAttachment(p *mimeparse.AttachmentPart) error {
	att := &domain.Attachment{
		Filename:           p.Filename,
		GeneratedFileName:  s.names.reserve(GenerateFileName(p.Filename, p.ContentType)),
		ContentType:        p.ContentType,
		ContentDisposition: p.ContentDisposition,
		Headers:            p.Headers,
		ContentID:          p.ContentID,
		Related:            p.Related(),
	}
	s.msg.Attachments = append(s.msg.Attachments, att)

	location, w, err := s.streams.AttachmentSink(s.msg.ID, att.GeneratedFileName)
	if err != nil {
		p.Release()
		return &domain.SinkError{Location: location, Err: err}
	}
	if w == nil {
		p.Release()
		return fmt.Errorf("%w: nil sink for attachment %s", domain.ErrConfiguration, att.GeneratedFileName)
	}
	att.Source = location

	s.group.Go(func() error {
		return s.failures.add(drainAttachment(att, p, w))
	})
	return nil
}

func (s *assembly) OnEnd() error {
	return nil
}

// drainAttachment 把附件内容写入输出流，同时计算大小与 md5。
func drainAttachment(att *domain.Attachment, p *mimeparse.AttachmentPart, w io.WriteCloser) error {
	defer p.Release()

	hash := md5.New()
	out := &sinkWriter{w: w, location: att.Source}
	_, copyErr := io.Copy(io.MultiWriter(out, hash), p.Content)
	closeErr := w.Close()

	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return &domain.SinkError{Location: att.Source, Err: closeErr}
	}
	att.Size = out.n
	att.Checksum = hex.EncodeToString(hash.Sum(nil))
	return nil
}

// streamReader 把源的读取错误标记为 StreamError，并在每次读取前检查取消。
type streamReader struct {
	ctx context.Context
	r   io.Reader
}

func (s *streamReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, &domain.StreamError{Op: "read", Err: err}
	}
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &domain.StreamError{Op: "read", Err: err}
	}
	return n, err
}

// sinkWriter 统计写入字节并把写入错误标记为 SinkError。
type sinkWriter struct {
	w        io.Writer
	location string
	n        int64
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += int64(n)
	if err != nil {
		return n, &domain.SinkError{Location: s.location, Err: err}
	}
	return n, nil
}

// failureSet 收集各任务的错误。errgroup 只保留最先返回的错误，
// 而管道关闭引起的连带错误可能先于根因返回。
type failureSet struct {
	mu   sync.Mutex
	errs []error
}

func (f *failureSet) add(err error) error {
	if err == nil {
		return nil
	}
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	return err
}

// primary 按 流 > 输出 > 配置 > 解析 的顺序挑出根因。
func (f *failureSet) primary(fallback error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, kind := range []error{domain.ErrStream, domain.ErrSink, domain.ErrConfiguration, domain.ErrParse} {
		for _, err := range f.errs {
			if errors.Is(err, kind) {
				return err
			}
		}
	}
	for _, err := range f.errs {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &domain.StreamError{Op: "read", Err: err}
		}
	}
	if len(f.errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrParse, f.errs[0])
	}
	return fallback
}
