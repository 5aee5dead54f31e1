package httptransport

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/service"
)

// EmailHandler 邮件相关接口
type EmailHandler struct {
	mail      *service.MailService
	publicURL string
	basePath  string
	log       *zap.Logger
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(mail *service.MailService, publicURL, basePath string, log *zap.Logger) *EmailHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailHandler{
		mail:      mail,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		basePath:  strings.TrimSuffix(basePath, "/"),
		log:       log,
	}
}

// deleteResult 删除结果，部分文件清理失败时带 warnings
type deleteResult struct {
	Deleted  int      `json:"deleted"`
	Warnings []string `json:"warnings,omitempty"`
}

type relayRequest struct {
	To []string `json:"to"`
}

// ========== 查询 ==========

// List 列出邮件；带有搜索参数时返回分页搜索结果
func (h *EmailHandler) List(c *gin.Context) {
	criteria, filtered, err := parseSearchCriteria(c)
	if err != nil {
		BadRequest(c, fmt.Sprintf("%s: %v", MsgInvalidRequest, err))
		return
	}
	if !filtered {
		Success(c, h.mail.List())
		return
	}
	Success(c, h.mail.Search(criteria))
}

// Get 获取单封邮件并标记为已读
func (h *EmailHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if err := h.mail.MarkRead(id); err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	message, err := h.mail.Get(id)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	Success(c, message)
}

// HTML 返回改写过 cid: 引用的邮件 HTML
func (h *EmailHandler) HTML(c *gin.Context) {
	html, err := h.mail.GetEmailHTML(c.Param("id"), h.baseURL(c))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// Attachment 下载附件
func (h *EmailHandler) Attachment(c *gin.Context) {
	name := c.Param("filename")
	contentType, r, err := h.mail.GetAttachment(c.Param("id"), name)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	defer r.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.stream(c, r, contentType, mime.FormatMediaType("inline", map[string]string{"filename": name}))
}

// Source 以纯文本返回原始邮件
func (h *EmailHandler) Source(c *gin.Context) {
	r, err := h.mail.GetRaw(c.Param("id"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	defer r.Close()
	h.stream(c, r, "text/plain; charset=utf-8", "")
}

// Download 以 .eml 文件下载原始邮件
func (h *EmailHandler) Download(c *gin.Context) {
	id := c.Param("id")
	r, err := h.mail.GetRaw(id)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	defer r.Close()
	h.stream(c, r, "message/rfc822", mime.FormatMediaType("attachment", map[string]string{"filename": id + ".eml"}))
}

// ========== 状态 ==========

// MarkRead 标记单封邮件为已读
func (h *EmailHandler) MarkRead(c *gin.Context) {
	if err := h.mail.MarkRead(c.Param("id")); err != nil {
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
		return
	}
	Success(c, nil)
}

// MarkAllRead 标记所有邮件为已读
func (h *EmailHandler) MarkAllRead(c *gin.Context) {
	Success(c, gin.H{"count": h.mail.MarkAllRead()})
}

// ========== 删除 ==========

// Delete 删除单封邮件
func (h *EmailHandler) Delete(c *gin.Context) {
	err := h.mail.Delete(c.Param("id"))
	h.respondDelete(c, 1, err)
}

// DeleteAll 删除所有邮件
func (h *EmailHandler) DeleteAll(c *gin.Context) {
	count, err := h.mail.DeleteAll()
	h.respondDelete(c, count, err)
}

func (h *EmailHandler) respondDelete(c *gin.Context, count int, err error) {
	var partial *domain.PartialDeleteError
	switch {
	case err == nil:
		Success(c, deleteResult{Deleted: count})
	case errors.As(err, &partial):
		result := deleteResult{Deleted: partial.Deleted}
		for _, failure := range partial.Failures {
			result.Warnings = append(result.Warnings, failure.Error())
		}
		SuccessWithMsg(c, "已删除，部分文件清理失败", result)
	default:
		respondError(c, err, http.StatusInternalServerError, MsgInternalError)
	}
}

// ========== 转发 ==========

// Relay 转发邮件，请求体可以指定收件人
func (h *EmailHandler) Relay(c *gin.Context) {
	var req relayRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	if err := h.mail.Relay(c.Request.Context(), c.Param("id"), service.RelayOptions{To: req.To}); err != nil {
		respondError(c, err, http.StatusBadGateway, MsgRelayFailed)
		return
	}
	SuccessWithMsg(c, "转发成功", nil)
}

// ========== 辅助方法 ==========

// baseURL 计算 cid: 改写使用的地址前缀
func (h *EmailHandler) baseURL(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + h.basePath
}

func (h *EmailHandler) stream(c *gin.Context, r io.Reader, contentType, disposition string) {
	c.Header("Content-Type", contentType)
	if disposition != "" {
		c.Header("Content-Disposition", disposition)
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, r); err != nil {
		h.log.Warn("failed to stream response", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
}

// parseSearchCriteria 解析搜索参数，没有任何参数时 filtered 为 false
func parseSearchCriteria(c *gin.Context) (domain.SearchCriteria, bool, error) {
	var criteria domain.SearchCriteria
	query := c.Request.URL.Query()
	if len(query) == 0 {
		return criteria, false, nil
	}

	criteria.Query = query.Get("q")
	criteria.From = query.Get("from")
	criteria.To = query.Get("to")
	criteria.Subject = query.Get("subject")

	var err error
	if criteria.Since, err = parseTime(query.Get("since")); err != nil {
		return criteria, true, fmt.Errorf("since: %w", err)
	}
	if criteria.Until, err = parseTime(query.Get("until")); err != nil {
		return criteria, true, fmt.Errorf("until: %w", err)
	}
	if criteria.Read, err = parseBool(query.Get("read")); err != nil {
		return criteria, true, fmt.Errorf("read: %w", err)
	}
	if criteria.HasAttachment, err = parseBool(query.Get("hasAttachment")); err != nil {
		return criteria, true, fmt.Errorf("hasAttachment: %w", err)
	}
	if criteria.Page, err = parseInt(query.Get("page")); err != nil {
		return criteria, true, fmt.Errorf("page: %w", err)
	}
	if criteria.PageSize, err = parseInt(query.Get("pageSize")); err != nil {
		return criteria, true, fmt.Errorf("pageSize: %w", err)
	}
	return criteria, true, nil
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseBool(value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
