// Package mimeparse 把 go-message 的流式解析结果转换为按顺序发出的事件：
// 顶层邮件头、附件、正文、结束。
package mimeparse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mailtrap/backend/internal/domain"
)

// Handler 接收解析事件。任一回调返回错误都会终止解析。
type Handler interface {
	OnHeaders(h *Headers) error
	OnAttachment(p *AttachmentPart) error
	OnText(body TextBody) error
	OnEnd() error
}

// TextBody 邮件正文，所有内联文本部分按顺序合并。
type TextBody struct {
	Text string
	HTML string
}

// AttachmentPart 一个附件部分。
//
// Content 只能在 OnAttachment 返回后、Release 调用前读取；
// 解析器在 Release 之前不会前进到下一个部分。
type AttachmentPart struct {
	Filename           string
	ContentType        string
	ContentDisposition string
	ContentID          string
	Headers            map[string]string
	Content            io.Reader

	once     sync.Once
	released chan struct{}
}

func newAttachmentPart() *AttachmentPart {
	return &AttachmentPart{released: make(chan struct{})}
}

// Release 通知解析器本部分已处理完毕，可重复调用。
func (p *AttachmentPart) Release() {
	p.once.Do(func() { close(p.released) })
}

// Released 在 Release 被调用后关闭。
func (p *AttachmentPart) Released() <-chan struct{} {
	return p.released
}

// Related 报告该部分是否为带 Content-ID 的内联资源。
func (p *AttachmentPart) Related() bool {
	return p.ContentID != "" && p.ContentDisposition != "attachment"
}

// Parse 从 r 读取一封邮件并依次触发 h 的回调。
//
// 未知字符集不是致命错误，对应部分按原始字节处理。
func Parse(ctx context.Context, r io.Reader, h Handler) error {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("%w: read header: %w", domain.ErrParse, err)
	}
	if mr == nil {
		return fmt.Errorf("%w: read header: %w", domain.ErrParse, err)
	}
	defer mr.Close()

	if err := h.OnHeaders(&Headers{h: mr.Header}); err != nil {
		return err
	}

	var body TextBody
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("%w: next part: %w", domain.ErrParse, err)
		}
		if p == nil {
			continue
		}

		hdr, ok := partHeader(p.Header)
		if !ok {
			continue
		}
		info := describe(hdr)

		if info.isText() {
			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("%w: read text part: %w", domain.ErrParse, err)
			}
			body.append(info.mediaType, string(content))
			continue
		}

		part := newAttachmentPart()
		part.Filename = info.filename
		part.ContentType = info.mediaType
		part.ContentDisposition = info.disposition
		part.ContentID = info.contentID
		part.Headers = info.headers
		part.Content = p.Body

		if err := h.OnAttachment(part); err != nil {
			return err
		}

		select {
		case <-part.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if body.Text != "" || body.HTML != "" {
		if err := h.OnText(body); err != nil {
			return err
		}
	}
	return h.OnEnd()
}

func (b *TextBody) append(mediaType, content string) {
	if mediaType == "text/html" {
		b.HTML = joinPart(b.HTML, content)
		return
	}
	b.Text = joinPart(b.Text, content)
}

func joinPart(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

func partHeader(h mail.PartHeader) (message.Header, bool) {
	switch ph := h.(type) {
	case *mail.InlineHeader:
		return ph.Header, true
	case *mail.AttachmentHeader:
		return ph.Header, true
	default:
		return message.Header{}, false
	}
}

type partInfo struct {
	mediaType   string
	disposition string
	filename    string
	contentID   string
	headers     map[string]string
}

func describe(hdr message.Header) partInfo {
	info := partInfo{headers: make(map[string]string)}

	info.mediaType, _, _ = hdr.ContentType()
	if info.mediaType == "" {
		info.mediaType = "text/plain"
	}
	info.mediaType = strings.ToLower(info.mediaType)

	info.disposition, _, _ = hdr.ContentDisposition()
	info.disposition = strings.ToLower(info.disposition)

	ah := mail.AttachmentHeader{Header: hdr}
	if name, err := ah.Filename(); err == nil {
		info.filename = name
	}

	info.contentID = strings.Trim(strings.TrimSpace(hdr.Get("Content-Id")), "<>")

	fields := hdr.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if _, exists := info.headers[key]; !exists {
			info.headers[key] = fields.Value()
		}
	}
	return info
}

// isText 非文本部分或带文件名的部分都按附件处理。
func (i partInfo) isText() bool {
	if i.filename != "" || i.disposition == "attachment" {
		return false
	}
	return i.mediaType == "text/plain" || i.mediaType == "text/html"
}

// Headers 顶层邮件头的只读视图。
type Headers struct {
	h mail.Header
}

// Text 返回解码后的头字段值，缺失时返回空字符串。
func (hs *Headers) Text(key string) string {
	v, err := hs.h.Text(key)
	if err != nil {
		return strings.TrimSpace(hs.h.Get(key))
	}
	return strings.TrimSpace(v)
}

// Has 报告头字段是否存在。
func (hs *Headers) Has(key string) bool {
	return hs.h.Has(key)
}

// Addresses 解析地址列表；格式错误时保留原始值。
func (hs *Headers) Addresses(key string) []domain.Address {
	list, err := hs.h.AddressList(key)
	if err != nil {
		raw := strings.TrimSpace(hs.h.Get(key))
		if raw == "" {
			return nil
		}
		return []domain.Address{{Address: raw}}
	}
	if len(list) == 0 {
		return nil
	}
	out := make([]domain.Address, 0, len(list))
	for _, a := range list {
		out = append(out, domain.Address{Address: a.Address, Name: a.Name})
	}
	return out
}

// Date 解析 Date 头。
func (hs *Headers) Date() (time.Time, bool) {
	if !hs.h.Has("Date") {
		return time.Time{}, false
	}
	t, err := hs.h.Date()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// Fields 以小写键返回所有头字段的原始值。
func (hs *Headers) Fields() map[string][]string {
	out := make(map[string][]string)
	fields := hs.h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		out[key] = append(out[key], fields.Value())
	}
	return out
}

// IsParseError 判断错误是否源于 MIME 结构本身。
func IsParseError(err error) bool {
	return errors.Is(err, domain.ErrParse)
}
