package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/idgen"
	"mailtrap/backend/internal/ingest"
	"mailtrap/backend/internal/storage/filesystem"
	"mailtrap/backend/internal/storage/memory"
)

// MockNotifier 模拟事件接收者
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OnNewMessage(message *domain.Message) {
	m.Called(message)
}

func (m *MockNotifier) OnDeleted(id string) {
	m.Called(id)
}

func (m *MockNotifier) OnDeletedAll() {
	m.Called()
}

// fakeRelayer 记录转发内容
type fakeRelayer struct {
	mu         sync.Mutex
	raw        string
	recipients []string
	err        error
}

func (f *fakeRelayer) Relay(_ context.Context, _ *domain.Message, raw io.Reader, recipients []string) error {
	data, err := io.ReadAll(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = string(data)
	f.recipients = recipients
	return f.err
}

type testEnv struct {
	svc   *MailService
	files *filesystem.Store
	fs    afero.Fs
}

func sequentialIDs() idgen.Generator {
	var mu sync.Mutex
	n := 0
	return idgen.Func(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("msg-%d", n)
	})
}

func newTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	files, err := filesystem.NewStoreWithFs(fs, "/mail", nil)
	require.NoError(t, err)
	store := memory.NewStore(files, nil)
	require.NoError(t, store.Init())

	opts = append([]Option{WithIDGenerator(sequentialIDs())}, opts...)
	svc := NewMailService(store, files, ingest.NewAssembler(files), opts...)
	return &testEnv{svc: svc, files: files, fs: fs}
}

var envelope = domain.Envelope{From: "a@x", To: []string{"b@y"}, Host: "localhost", RemoteAddress: "127.0.0.1:1234"}

func messageIDs(messages []*domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestMailService_Ingest(t *testing.T) {
	t.Run("Subject: Hi 收到后可以查询", func(t *testing.T) {
		notifier := new(MockNotifier)
		notifier.On("OnNewMessage", mock.MatchedBy(func(m *domain.Message) bool {
			return m.ID == "msg-1" && m.Subject == "Hi"
		})).Once()

		env := newTestService(t)
		env.svc.Subscribe(notifier)

		raw := "From: a@x\r\nTo: b@y\r\nSubject: Hi\r\n\r\nHello\r\n"
		msg, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, "msg-1", msg.ID)

		list := env.svc.List()
		require.Len(t, list, 1)
		assert.Equal(t, "Hi", list[0].Subject)
		assert.Equal(t, "Hello", strings.TrimSpace(list[0].Text))
		assert.Equal(t, int64(len(raw)), list[0].Size)

		r, err := env.svc.GetRaw("msg-1")
		require.NoError(t, err)
		data, _ := io.ReadAll(r)
		r.Close()
		assert.Equal(t, raw, string(data))

		notifier.AssertExpectations(t)
	})

	t.Run("失败时不留下文件也不通知", func(t *testing.T) {
		notifier := new(MockNotifier)
		env := newTestService(t)
		env.svc.Subscribe(notifier)

		src := io.MultiReader(strings.NewReader("Subject: x\r\n\r\npartial"), iotest.ErrReader(errors.New("connection reset")))
		_, err := env.svc.Ingest(context.Background(), envelope, src)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStream)

		assert.Empty(t, env.svc.List())
		entries, err := afero.ReadDir(env.fs, env.files.BasePath())
		require.NoError(t, err)
		assert.Empty(t, entries)
		notifier.AssertNotCalled(t, "OnNewMessage", mock.Anything)
	})

	t.Run("重复 ID 被拒绝且原邮件保持完整", func(t *testing.T) {
		notifier := new(MockNotifier)
		notifier.On("OnNewMessage", mock.Anything).Once()
		env := newTestService(t, WithIDGenerator(idgen.Func(func() string { return "same" })))
		env.svc.Subscribe(notifier)

		first := "Subject: first\r\n\r\nfirst body\r\n"
		_, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader(first))
		require.NoError(t, err)

		_, err = env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: second\r\n\r\nsecond\r\n"))
		assert.ErrorIs(t, err, domain.ErrDuplicateID)

		msg, err := env.svc.Get("same")
		require.NoError(t, err)
		assert.Equal(t, "first", msg.Subject)

		r, err := env.svc.GetRaw("same")
		require.NoError(t, err)
		data, _ := io.ReadAll(r)
		r.Close()
		assert.Equal(t, first, string(data))
		assert.Len(t, env.svc.List(), 1)
		notifier.AssertExpectations(t)
	})

	t.Run("接收中的同 ID 邮件不受第二次投递影响", func(t *testing.T) {
		env := newTestService(t, WithIDGenerator(idgen.Func(func() string { return "same" })))

		started := make(chan struct{})
		gate := make(chan struct{})
		slow := &gatedReader{r: strings.NewReader("Subject: slow\r\n\r\nslow"), started: started, gate: gate}

		slowDone := make(chan error, 1)
		go func() {
			_, err := env.svc.Ingest(context.Background(), envelope, slow)
			slowDone <- err
		}()
		<-started

		_, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: other\r\n\r\nother"))
		assert.ErrorIs(t, err, domain.ErrDuplicateID)

		close(gate)
		require.NoError(t, <-slowDone)

		r, err := env.svc.GetRaw("same")
		require.NoError(t, err)
		data, _ := io.ReadAll(r)
		r.Close()
		assert.Equal(t, "Subject: slow\r\n\r\nslow", string(data))
	})

	t.Run("两封并发邮件按完成顺序排列", func(t *testing.T) {
		env := newTestService(t)

		started := make(chan struct{})
		gate := make(chan struct{})
		slow := &gatedReader{r: strings.NewReader("Subject: slow\r\n\r\nslow"), started: started, gate: gate}

		slowDone := make(chan error, 1)
		go func() {
			_, err := env.svc.Ingest(context.Background(), envelope, slow)
			slowDone <- err
		}()
		<-started

		_, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: fast\r\n\r\nfast"))
		require.NoError(t, err)
		assert.Equal(t, []string{"msg-2"}, messageIDs(env.svc.List()))

		close(gate)
		require.NoError(t, <-slowDone)
		assert.Equal(t, []string{"msg-2", "msg-1"}, messageIDs(env.svc.List()))
	})
}

// gatedReader 首次读取时发出 started 信号，并等待 gate 关闭
type gatedReader struct {
	r       io.Reader
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.gate
	})
	return g.r.Read(p)
}

func TestMailService_GetEmailHTML(t *testing.T) {
	logo := []byte("\x89PNG\r\n\x1a\nlogo")
	part, err := enmime.Builder().
		From("Alice", "alice@example.com").
		To("Bob", "bob@example.com").
		Subject("Inline image").
		Date(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)).
		Text([]byte("see image")).
		HTML([]byte(`<p><img src="cid:logo@example"> <img src="cid:unknown@example"></p>`)).
		AddInline(logo, "image/png", "logo.png", "logo@example").
		Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, part.Encode(&buf))

	env := newTestService(t)
	msg, err := env.svc.Ingest(context.Background(), envelope, &buf)
	require.NoError(t, err)

	html, err := env.svc.GetEmailHTML(msg.ID, "http://localhost:1080/")
	require.NoError(t, err)

	want := "http://localhost:1080/email/msg-1/attachment/logo.png"
	assert.Contains(t, html, `<img src="`+want+`">`)
	assert.Contains(t, html, "cid:unknown@example", "unknown references are left untouched")

	// 改写后的地址可以取回附件内容
	name := want[strings.LastIndex(want, "/")+1:]
	contentType, r, err := env.svc.GetAttachment(msg.ID, name)
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, logo, data)

	_, err = env.svc.GetEmailHTML("missing", "http://localhost:1080")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	t.Run("没有 HTML 时使用文本转换结果", func(t *testing.T) {
		plain, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: t\r\n\r\nline <1>\r\n"))
		require.NoError(t, err)
		html, err := env.svc.GetEmailHTML(plain.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "<p>line &lt;1&gt;</p>", html)
	})
}

func TestMailService_Delete(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OnNewMessage", mock.Anything)
	notifier.On("OnDeleted", "msg-1").Once()
	notifier.On("OnDeletedAll").Once()

	env := newTestService(t)
	env.svc.Subscribe(notifier)

	for i := 0; i < 3; i++ {
		_, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: x\r\n\r\nbody"))
		require.NoError(t, err)
	}

	require.NoError(t, env.svc.Delete("msg-1"))
	assert.Equal(t, []string{"msg-2", "msg-3"}, messageIDs(env.svc.List()))
	assert.ErrorIs(t, env.svc.Delete("msg-1"), domain.ErrMessageNotFound)

	assert.Equal(t, 2, env.svc.MarkAllRead())
	assert.Equal(t, 0, env.svc.MarkAllRead())

	count, err := env.svc.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Empty(t, env.svc.List())

	notifier.AssertExpectations(t)
}

func TestMailService_Relay(t *testing.T) {
	t.Run("未配置转发", func(t *testing.T) {
		env := newTestService(t)
		assert.False(t, env.svc.RelayEnabled())
		err := env.svc.Relay(context.Background(), "msg-1", RelayOptions{})
		assert.ErrorIs(t, err, domain.ErrRelayDisabled)
	})

	t.Run("使用信封收件人转发原始内容", func(t *testing.T) {
		relayer := &fakeRelayer{}
		env := newTestService(t, WithRelayer(relayer))
		raw := "Subject: relay me\r\n\r\nbody"
		msg, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader(raw))
		require.NoError(t, err)

		require.NoError(t, env.svc.Relay(context.Background(), msg.ID, RelayOptions{}))
		assert.Equal(t, raw, relayer.raw)
		assert.Equal(t, []string{"b@y"}, relayer.recipients)

		require.NoError(t, env.svc.Relay(context.Background(), msg.ID, RelayOptions{To: []string{"other@z"}}))
		assert.Equal(t, []string{"other@z"}, relayer.recipients)

		assert.ErrorIs(t, env.svc.Relay(context.Background(), "missing", RelayOptions{}), domain.ErrMessageNotFound)
	})

	t.Run("转发失败返回错误", func(t *testing.T) {
		relayer := &fakeRelayer{err: errors.New("upstream refused")}
		env := newTestService(t, WithRelayer(relayer))
		msg, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: x\r\n\r\nbody"))
		require.NoError(t, err)

		assert.EqualError(t, env.svc.Relay(context.Background(), msg.ID, RelayOptions{}), "upstream refused")
	})
}

func TestMailService_NotifierPanic(t *testing.T) {
	env := newTestService(t)
	env.svc.Subscribe(NotifierFuncs{NewMessage: func(*domain.Message) { panic("boom") }})

	var got []string
	env.svc.Subscribe(NotifierFuncs{NewMessage: func(m *domain.Message) { got = append(got, m.ID) }})

	_, err := env.svc.Ingest(context.Background(), envelope, strings.NewReader("Subject: x\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1"}, got)
}
