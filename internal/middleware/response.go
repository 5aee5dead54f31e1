package middleware

import "github.com/gin-gonic/gin"

// envelope 与 transport/http.Response 保持同一结构 {code,msg,data}
type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// abortJSON 以统一响应结构终止请求，业务码与 HTTP 状态码一致
func abortJSON(c *gin.Context, status int, msg string, data interface{}) {
	c.AbortWithStatusJSON(status, envelope{Code: status, Msg: msg, Data: data})
}
