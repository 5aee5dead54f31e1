package memory

import (
	"slices"
	"strings"

	"mailtrap/backend/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Search 搜索邮件，结果按接收时间倒序排列。
func (s *Store) Search(criteria domain.SearchCriteria) *domain.SearchResult {
	// 设置默认分页参数
	if criteria.Page <= 0 {
		criteria.Page = 1
	}
	if criteria.PageSize <= 0 {
		criteria.PageSize = defaultPageSize
	}
	if criteria.PageSize > maxPageSize {
		criteria.PageSize = maxPageSize
	}

	s.mu.RLock()
	filtered := make([]*domain.Message, 0)
	for _, id := range s.order {
		if message := s.messages[id]; matchesCriteria(message, criteria) {
			filtered = append(filtered, message.Clone())
		}
	}
	s.mu.RUnlock()

	// 按接收时间倒序排序，相同时间保持完成顺序的逆序
	slices.Reverse(filtered)
	slices.SortStableFunc(filtered, func(a, b *domain.Message) int {
		return b.ReceivedAt.Compare(a.ReceivedAt)
	})

	// 分页
	total := len(filtered)
	start := min((criteria.Page-1)*criteria.PageSize, total)
	end := min(start+criteria.PageSize, total)

	return &domain.SearchResult{
		Messages:   filtered[start:end],
		Total:      total,
		Page:       criteria.Page,
		PageSize:   criteria.PageSize,
		TotalPages: (total + criteria.PageSize - 1) / criteria.PageSize,
	}
}

// matchesCriteria 检查邮件是否匹配搜索条件
func matchesCriteria(msg *domain.Message, criteria domain.SearchCriteria) bool {
	from := addressText(msg.From)
	to := addressText(msg.To) + " " + strings.Join(msg.Envelope.To, " ")

	// 关键词搜索（主题、发件人、收件人、内容）
	if criteria.Query != "" {
		query := strings.ToLower(criteria.Query)
		if !containsFold(msg.Subject, query) &&
			!containsFold(from, query) &&
			!containsFold(to, query) &&
			!containsFold(msg.Text, query) {
			return false
		}
	}

	if criteria.From != "" && !containsFold(from, strings.ToLower(criteria.From)) {
		return false
	}
	if criteria.To != "" && !containsFold(to, strings.ToLower(criteria.To)) {
		return false
	}
	if criteria.Subject != "" && !containsFold(msg.Subject, strings.ToLower(criteria.Subject)) {
		return false
	}

	// 时间范围筛选
	if criteria.Since != nil && msg.ReceivedAt.Before(*criteria.Since) {
		return false
	}
	if criteria.Until != nil && msg.ReceivedAt.After(*criteria.Until) {
		return false
	}

	if criteria.Read != nil && msg.Read != *criteria.Read {
		return false
	}
	if criteria.HasAttachment != nil && msg.HasAttachments() != *criteria.HasAttachment {
		return false
	}

	return true
}

func addressText(list []domain.Address) string {
	parts := make([]string, 0, len(list)*2)
	for _, a := range list {
		parts = append(parts, a.Name, a.Address)
	}
	return strings.Join(parts, " ")
}

func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}
