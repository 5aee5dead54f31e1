package domain

import "time"

// SearchCriteria 邮件搜索条件，零值表示不过滤
type SearchCriteria struct {
	Query         string     // 搜索关键词（主题、发件人、收件人、正文）
	From          string     // 发件人筛选
	To            string     // 收件人筛选
	Subject       string     // 主题筛选
	Since         *time.Time // 开始时间（接收时间）
	Until         *time.Time // 结束时间（接收时间）
	Read          *bool      // 是否已读
	HasAttachment *bool      // 是否有附件
	Page          int        // 页码（默认1）
	PageSize      int        // 每页数量（默认50，最大500）
}

// SearchResult 邮件搜索结果
type SearchResult struct {
	Messages   []*Message `json:"messages"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalPages int        `json:"totalPages"`
}
