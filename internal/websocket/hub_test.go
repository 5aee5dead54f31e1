package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrap/backend/internal/domain"
)

func startHub(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(origins, nil)
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub, url := startHub(t, nil)

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.OnNewMessage(&domain.Message{ID: "msg-1", Subject: "Hi"})
	hub.OnDeleted("msg-1")
	hub.OnDeletedAll()

	for _, conn := range conns {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeNew, msg.Type)
		assert.Equal(t, "msg-1", msg.ID)
		var m domain.Message
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		assert.Equal(t, "Hi", m.Subject)

		msg = readMessage(t, conn)
		assert.Equal(t, MessageTypeDelete, msg.Type)
		assert.Equal(t, "msg-1", msg.ID)

		msg = readMessage(t, conn)
		assert.Equal(t, MessageTypeDeleteAll, msg.Type)
	}

	require.NoError(t, conns[0].Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Origin(t *testing.T) {
	_, url := startHub(t, []string{"http://localhost:1080"})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:1080")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_NotRunning(t *testing.T) {
	hub := NewHub(nil, nil)
	// 队列满后丢弃，不阻塞调用方
	assert.NotPanics(t, func() {
		for i := 0; i < 300; i++ {
			hub.OnDeleted("x")
		}
	})
}

func TestHub_Stopped(t *testing.T) {
	hub := NewHub(nil, nil)

	// Run 启动前的事件先缓冲
	hub.OnDeleted("before")
	assert.Len(t, hub.broadcast, 1)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return len(hub.broadcast) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	hub.OnNewMessage(&domain.Message{ID: "after"})
	hub.OnDeleted("after")
	hub.OnDeletedAll()
	assert.Empty(t, hub.broadcast)
}
