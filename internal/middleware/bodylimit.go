package middleware

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 接口只接收小型 JSON（转发收件人列表）
const DefaultBodyLimit int64 = 1 << 20

// bodyLimitExceeded 413 响应的数据载荷
type bodyLimitExceeded struct {
	Limit int64 `json:"limit"`
	Size  int64 `json:"size"`
}

// BodySizeLimit 限制请求体大小。
// 声明的 Content-Length 超限时直接返回 413；未声明长度的请求体在读取时被截断，由处理器返回错误。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	msg := "请求体超过 " + humanize.IBytes(uint64(maxBytes)) + " 限制"

	return func(c *gin.Context) {
		req := c.Request
		if req.Body == nil || req.Body == http.NoBody {
			c.Next()
			return
		}
		if req.ContentLength > maxBytes {
			abortJSON(c, http.StatusRequestEntityTooLarge, msg, bodyLimitExceeded{Limit: maxBytes, Size: req.ContentLength})
			return
		}
		req.Body = http.MaxBytesReader(c.Writer, req.Body, maxBytes)
		c.Next()
	}
}
