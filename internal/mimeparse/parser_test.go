package mimeparse

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrap/backend/internal/domain"
)

type recordedAttachment struct {
	part    *AttachmentPart
	content string
}

type recorder struct {
	mu          sync.Mutex
	events      []string
	headers     *Headers
	body        TextBody
	attachments []recordedAttachment
	// keep 为 true 时不主动 Release，用于验证解析器会等待
	keep bool
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) attachment(i int) *AttachmentPart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachments[i].part
}

func (r *recorder) OnHeaders(h *Headers) error {
	r.record("headers")
	r.headers = h
	return nil
}

func (r *recorder) OnAttachment(p *AttachmentPart) error {
	if r.keep {
		r.mu.Lock()
		r.attachments = append(r.attachments, recordedAttachment{part: p})
		r.mu.Unlock()
		r.record("attachment")
		return nil
	}
	r.record("attachment")
	data, err := io.ReadAll(p.Content)
	if err != nil {
		return err
	}
	r.attachments = append(r.attachments, recordedAttachment{part: p, content: string(data)})
	p.Release()
	return nil
}

func (r *recorder) OnText(body TextBody) error {
	r.record("text")
	r.body = body
	return nil
}

func (r *recorder) OnEnd() error {
	r.record("end")
	return nil
}

var binaryPayload = []byte("\x00\x01\xfe\xffreport")

func buildMessage(t *testing.T) []byte {
	t.Helper()
	part, err := enmime.Builder().
		From("Alice", "alice@example.com").
		To("Bob", "bob@example.com").
		Subject("Quarterly report").
		Date(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)).
		Text([]byte("plain body")).
		HTML([]byte(`<p>html body <img src="cid:logo@example"></p>`)).
		AddInline([]byte("PNGDATA"), "image/png", "logo.png", "logo@example").
		AddAttachment(binaryPayload, "application/octet-stream", "report.bin").
		Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, part.Encode(&buf))
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	t.Run("多部分邮件按顺序发出事件", func(t *testing.T) {
		rec := &recorder{}
		err := Parse(context.Background(), bytes.NewReader(buildMessage(t)), rec)
		require.NoError(t, err)

		assert.Equal(t, []string{"headers", "attachment", "attachment", "text", "end"}, rec.events)
		assert.Equal(t, "Quarterly report", rec.headers.Text("Subject"))
		assert.Equal(t, []domain.Address{{Address: "alice@example.com", Name: "Alice"}}, rec.headers.Addresses("From"))
		assert.Equal(t, "plain body", strings.TrimSpace(rec.body.Text))
		assert.Contains(t, rec.body.HTML, "cid:logo@example")

		require.Len(t, rec.attachments, 2)
		inline := rec.attachments[0]
		assert.Equal(t, "logo.png", inline.part.Filename)
		assert.Equal(t, "image/png", inline.part.ContentType)
		assert.Equal(t, "logo@example", inline.part.ContentID)
		assert.True(t, inline.part.Related())
		assert.Equal(t, "PNGDATA", inline.content)

		file := rec.attachments[1]
		assert.Equal(t, "report.bin", file.part.Filename)
		assert.Equal(t, "attachment", file.part.ContentDisposition)
		assert.False(t, file.part.Related())
		assert.Equal(t, string(binaryPayload), file.content)
	})

	t.Run("单部分纯文本邮件", func(t *testing.T) {
		raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: Hi\r\n\r\nHello\r\n"
		rec := &recorder{}
		require.NoError(t, Parse(context.Background(), strings.NewReader(raw), rec))

		assert.Equal(t, []string{"headers", "text", "end"}, rec.events)
		assert.Equal(t, "Hi", rec.headers.Text("Subject"))
		assert.Equal(t, "Hello\r\n", rec.body.Text)
		assert.Empty(t, rec.body.HTML)
		_, ok := rec.headers.Date()
		assert.False(t, ok)
	})

	t.Run("没有正文时不发出 text 事件", func(t *testing.T) {
		raw := "Subject: empty\r\n\r\n"
		rec := &recorder{}
		require.NoError(t, Parse(context.Background(), strings.NewReader(raw), rec))
		assert.Equal(t, []string{"headers", "end"}, rec.events)
	})

	t.Run("未知字符集不是致命错误", func(t *testing.T) {
		raw := "Subject: charset\r\nContent-Type: text/plain; charset=x-unknown-42\r\n\r\nbody\r\n"
		rec := &recorder{}
		require.NoError(t, Parse(context.Background(), strings.NewReader(raw), rec))
		assert.Contains(t, rec.body.Text, "body")
	})

	t.Run("解析器等待 Release 后才前进", func(t *testing.T) {
		rec := &recorder{keep: true}
		done := make(chan error, 1)
		go func() {
			done <- Parse(context.Background(), bytes.NewReader(buildMessage(t)), rec)
		}()

		require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
		select {
		case <-done:
			t.Fatal("parser advanced before release")
		case <-time.After(50 * time.Millisecond):
		}

		first := rec.attachment(0)
		_, err := io.Copy(io.Discard, first.Content)
		require.NoError(t, err)
		first.Release()

		require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)
		second := rec.attachment(1)
		second.Release()
		second.Release()

		require.NoError(t, <-done)
	})

	t.Run("取消上下文时停止等待", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		rec := &recorder{keep: true}
		done := make(chan error, 1)
		go func() {
			done <- Parse(ctx, bytes.NewReader(buildMessage(t)), rec)
		}()

		require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestHeaders(t *testing.T) {
	raw := "From: \"Jane\" <jane@example.com>\r\n" +
		"To: one@example.com, \"Two\" <two@example.com>\r\n" +
		"Cc: not an address\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"X-Custom: a\r\n" +
		"X-Custom: b\r\n" +
		"Subject: =?UTF-8?B?5L2g5aW9?=\r\n\r\nbody"

	rec := &recorder{}
	require.NoError(t, Parse(context.Background(), strings.NewReader(raw), rec))
	h := rec.headers

	assert.Equal(t, "你好", h.Text("Subject"))
	assert.Len(t, h.Addresses("To"), 2)
	assert.Equal(t, []domain.Address{{Address: "not an address"}}, h.Addresses("Cc"))
	assert.Nil(t, h.Addresses("Bcc"))

	date, ok := h.Date()
	require.True(t, ok)
	assert.Equal(t, 2006, date.Year())

	fields := h.Fields()
	assert.Equal(t, []string{"a", "b"}, fields["x-custom"])
	assert.True(t, h.Has("X-Custom"))
	assert.False(t, h.Has("X-Missing"))
}
