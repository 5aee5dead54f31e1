package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailtrap/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgMessageNotFound    = "邮件不存在"
	MsgAttachmentNotFound = "附件不存在"
	MsgRelayDisabled      = "未配置邮件转发"
	MsgRelayRejected      = "收件人不允许转发"
	MsgRelayFailed        = "转发失败"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// 错误映射表（业务错误 -> 状态码与中文消息）
var errorResponses = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrMessageNotFound, http.StatusNotFound, MsgMessageNotFound},
	{domain.ErrAttachmentNotFound, http.StatusNotFound, MsgAttachmentNotFound},
	{domain.ErrRelayDisabled, http.StatusConflict, MsgRelayDisabled},
	{domain.ErrRelayRejected, http.StatusBadRequest, MsgRelayRejected},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			return e.msg
		}
	}
	return err.Error()
}

// respondError 把业务错误写成统一响应，未知错误返回 fallbackStatus
func respondError(c *gin.Context, err error, fallbackStatus int, fallbackMsg string) {
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			Error(c, e.status, e.msg)
			return
		}
	}
	_ = c.Error(err)
	Error(c, fallbackStatus, fallbackMsg)
}
