package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/service"
)

type fakeTransport struct {
	from string
	to   []string
	raw  string
	err  error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, from string, to []string, raw io.Reader) error {
	data, err := io.ReadAll(raw)
	if err != nil {
		return err
	}
	f.from, f.to, f.raw = from, to, string(data)
	return f.err
}

func TestRelayer_Relay(t *testing.T) {
	msg := &domain.Message{ID: "msg-1", Envelope: domain.Envelope{From: "a@x.io", To: []string{"b@y.io"}}}

	t.Run("使用信封发件人", func(t *testing.T) {
		tr := &fakeTransport{}
		r := NewRelayer(tr, nil)
		require.NoError(t, r.Relay(context.Background(), msg, strings.NewReader("raw"), []string{"c@z.io"}))
		assert.Equal(t, "a@x.io", tr.from)
		assert.Equal(t, []string{"c@z.io"}, tr.to)
		assert.Equal(t, "raw", tr.raw)
	})

	t.Run("非法收件人被拒绝", func(t *testing.T) {
		tr := &fakeTransport{}
		err := NewRelayer(tr, nil).Relay(context.Background(), msg, strings.NewReader("raw"), []string{"Bob <b@y.io>"})
		assert.ErrorIs(t, err, domain.ErrRelayRejected)
		assert.Empty(t, tr.raw)
	})

	t.Run("通道错误带名称", func(t *testing.T) {
		tr := &fakeTransport{err: errors.New("421 busy")}
		err := NewRelayer(tr, nil).Relay(context.Background(), msg, strings.NewReader("raw"), []string{"b@y.io"})
		assert.EqualError(t, err, "relay via fake: 421 busy")
	})
}

func TestRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []string
		addr  string
		want  bool
	}{
		{"没有规则全部允许", nil, "any@where.io", true},
		{"allow 匹配", []string{"allow:*@example.com"}, "bob@example.com", true},
		{"不匹配时拒绝", []string{"allow:*@example.com"}, "bob@other.com", false},
		{"大小写不敏感", []string{"*@Example.COM"}, "Bob@example.com", true},
		{"后面的规则优先", []string{"allow:*", "deny:*@spam.io"}, "x@spam.io", false},
		{"后面的 allow 覆盖 deny", []string{"deny:*", "allow:ops-*@corp.io"}, "ops-1@corp.io", true},
		{"中间通配符", []string{"a*b*c@x.io"}, "aXbYc@x.io", true},
		{"通配符不重叠", []string{"ab*ba"}, "aba", false},
		{"精确匹配", []string{"deny:*", "allow:me@x.io"}, "me@x.io", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRules(tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Allowed(tt.addr))
		})
	}

	t.Run("Filter 保持顺序", func(t *testing.T) {
		r, err := ParseRules([]string{"deny:*@spam.io"})
		require.NoError(t, err)
		// 有规则但 allow 全部缺失时都被拒绝
		assert.Empty(t, r.Filter([]string{"a@x.io", "b@spam.io"}))

		r, err = ParseRules([]string{"*", "deny:*@spam.io"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.io", "c@y.io"}, r.Filter([]string{"a@x.io", "b@spam.io", "c@y.io"}))
	})

	t.Run("空模式报错", func(t *testing.T) {
		_, err := ParseRules([]string{"allow:"})
		assert.Error(t, err)
	})
}

// syncRunner 同步执行任务
type syncRunner struct {
	full bool
}

func (r *syncRunner) TrySubmit(task func(ctx context.Context)) bool {
	if r.full {
		return false
	}
	task(context.Background())
	return true
}

type fakeMessageRelayer struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (f *fakeMessageRelayer) Relay(_ context.Context, id string, opts service.RelayOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string][]string{}
	}
	f.calls[id] = opts.To
	return nil
}

func TestAutoRelay(t *testing.T) {
	rules, err := ParseRules([]string{"*@corp.io"})
	require.NoError(t, err)

	t.Run("只转发允许的收件人", func(t *testing.T) {
		relayer := &fakeMessageRelayer{}
		auto := NewAutoRelay(relayer, rules, &syncRunner{}, nil)

		auto.OnNewMessage(&domain.Message{ID: "msg-1", Envelope: domain.Envelope{To: []string{"a@corp.io", "b@gmail.com"}}})
		auto.OnNewMessage(&domain.Message{ID: "msg-2", Envelope: domain.Envelope{To: []string{"b@gmail.com"}}})

		assert.Equal(t, map[string][]string{"msg-1": {"a@corp.io"}}, relayer.calls)
	})

	t.Run("队列已满时丢弃", func(t *testing.T) {
		relayer := &fakeMessageRelayer{}
		auto := NewAutoRelay(relayer, rules, &syncRunner{full: true}, nil)
		auto.OnNewMessage(&domain.Message{ID: "msg-1", Envelope: domain.Envelope{To: []string{"a@corp.io"}}})
		assert.Empty(t, relayer.calls)
	})
}
