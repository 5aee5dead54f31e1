package ingest

import (
	"strings"

	"mailtrap/backend/internal/domain"
	"mailtrap/backend/internal/mimeparse"
)

// headerRule 把一个源头字段复制到邮件字段；字段缺失时执行 fallback（可为空）。
type headerRule struct {
	source   string
	assign   func(m *domain.Message, h *mimeparse.Headers, source string) bool
	fallback func(m *domain.Message, h *mimeparse.Headers)
}

var headerRules = []headerRule{
	{source: "From", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.From }), fallback: fromSender},
	{source: "To", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.To })},
	{source: "Cc", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.Cc })},
	{source: "Bcc", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.Bcc })},
	{source: "Reply-To", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.ReplyTo })},
	{source: "Sender", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.Sender })},
	{source: "Delivered-To", assign: addresses(func(m *domain.Message) *[]domain.Address { return &m.DeliveredTo })},
	{source: "Subject", assign: text(func(m *domain.Message) *string { return &m.Subject })},
	{source: "Message-Id", assign: text(func(m *domain.Message) *string { return &m.MessageID })},
	{source: "In-Reply-To", assign: text(func(m *domain.Message) *string { return &m.InReplyTo })},
	{source: "Return-Path", assign: text(func(m *domain.Message) *string { return &m.ReturnPath })},
	{source: "Content-Type", assign: text(func(m *domain.Message) *string { return &m.ContentType })},
	{source: "Content-Disposition", assign: text(func(m *domain.Message) *string { return &m.ContentDisposition })},
	{source: "Dkim-Signature", assign: text(func(m *domain.Message) *string { return &m.DKIMSignature })},
	{source: "X-Priority", assign: priority, fallback: importance},
	{source: "Date", assign: date, fallback: receivedDate},
}

// applyHeaderRules 按表复制头字段，缺失且无 fallback 的字段保持零值。
func applyHeaderRules(m *domain.Message, h *mimeparse.Headers) {
	for _, rule := range headerRules {
		if rule.assign(m, h, rule.source) {
			continue
		}
		if rule.fallback != nil {
			rule.fallback(m, h)
		}
	}
}

func addresses(field func(*domain.Message) *[]domain.Address) func(*domain.Message, *mimeparse.Headers, string) bool {
	return func(m *domain.Message, h *mimeparse.Headers, source string) bool {
		list := h.Addresses(source)
		if len(list) == 0 {
			return false
		}
		*field(m) = list
		return true
	}
}

func text(field func(*domain.Message) *string) func(*domain.Message, *mimeparse.Headers, string) bool {
	return func(m *domain.Message, h *mimeparse.Headers, source string) bool {
		v := h.Text(source)
		if v == "" {
			return false
		}
		*field(m) = v
		return true
	}
}

func fromSender(m *domain.Message, h *mimeparse.Headers) {
	if list := h.Addresses("Sender"); len(list) > 0 {
		m.From = list
	}
}

func date(m *domain.Message, h *mimeparse.Headers, _ string) bool {
	t, ok := h.Date()
	if !ok {
		return false
	}
	m.Date = t
	return true
}

func receivedDate(m *domain.Message, _ *mimeparse.Headers) {
	m.Date = m.ReceivedAt
}

// priority X-Priority: 1-2 为 high，4-5 为 low。
func priority(m *domain.Message, h *mimeparse.Headers, source string) bool {
	v := h.Text(source)
	if v == "" {
		return false
	}
	switch v[0] {
	case '1', '2':
		m.Priority = "high"
	case '4', '5':
		m.Priority = "low"
	default:
		m.Priority = "normal"
	}
	return true
}

// importance 仅在 Importance 取值可识别时设置优先级。
func importance(m *domain.Message, h *mimeparse.Headers) {
	switch strings.ToLower(h.Text("Importance")) {
	case "high":
		m.Priority = "high"
	case "low":
		m.Priority = "low"
	case "normal":
		m.Priority = "normal"
	}
}
