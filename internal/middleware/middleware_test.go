package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method, endpoint, status string
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	panics   int
}

func (f *fakeRecorder) RecordHTTPRequest(method, endpoint, statusCode string, _ time.Duration, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, endpoint, statusCode})
}

func (f *fakeRecorder) RecordPanic() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics++
}

func newEngine(rec *fakeRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	mm := NewMonitoringMiddleware(rec, nil)

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics(), SecurityHeaders(), RequestLogger(nil), BodySizeLimit(8))
	r.GET("/email/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) })
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.POST("/echo", func(c *gin.Context) {
		var body struct{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestHTTPMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	r := newEngine(rec)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/email/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/nope", "").Code)

	assert.Equal(t, []recordedRequest{
		{"GET", "/email/:id", "200"},
		{"GET", "unmatched", "404"},
	}, rec.requests)
}

func TestPanicRecovery(t *testing.T) {
	rec := &fakeRecorder{}
	w := serve(newEngine(rec), http.MethodGet, "/boom", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.Equal(t, "internal server error", body.Msg)
	assert.Equal(t, 1, rec.panics)
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(newEngine(&fakeRecorder{}), http.MethodGet, "/email/x", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestBodySizeLimit(t *testing.T) {
	r := newEngine(&fakeRecorder{})

	t.Run("声明长度超限返回统一结构的 413", func(t *testing.T) {
		w := serve(r, http.MethodPost, "/echo", `{"to":["someone@example.com"]}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

		body := decodeEnvelope(t, w)
		assert.Equal(t, http.StatusRequestEntityTooLarge, body.Code)
		assert.Contains(t, body.Msg, "8 B")
		assert.JSONEq(t, `{"limit":8,"size":30}`, string(body.Data))
	})

	t.Run("未声明长度时读取被截断", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"to":["someone@example.com"]}`))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("限制内正常通过", func(t *testing.T) {
		w := serve(r, http.MethodPost, "/echo", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestQuietRoutes(t *testing.T) {
	assert.True(t, isQuiet("/health/live"))
	assert.True(t, isQuiet("/mail/metrics"))
	assert.False(t, isQuiet("/email/:id"))
}

type testEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var body testEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
