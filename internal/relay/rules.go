package relay

import (
	"fmt"
	"strings"
)

// Rules 自动转发的收件人规则。
//
// 规则格式为 "allow:<pattern>" 或 "deny:<pattern>"，不带前缀视为 allow。
// pattern 中的 * 匹配任意字符，比较不区分大小写。
// 多条规则匹配时以最后一条为准；没有规则时全部允许，有规则但都不匹配时拒绝。
type Rules struct {
	rules []rule
}

type rule struct {
	allow   bool
	pattern string
}

// ParseRules 解析规则列表。
func ParseRules(lines []string) (*Rules, error) {
	r := &Rules{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		allow := true
		pattern := line
		if action, rest, ok := strings.Cut(line, ":"); ok {
			switch strings.ToLower(action) {
			case "allow":
				pattern = rest
			case "deny":
				allow = false
				pattern = rest
			}
		}

		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			return nil, fmt.Errorf("empty pattern in relay rule %q", line)
		}
		r.rules = append(r.rules, rule{allow: allow, pattern: pattern})
	}
	return r, nil
}

// Allowed 判断地址是否允许自动转发。
func (r *Rules) Allowed(addr string) bool {
	if r == nil || len(r.rules) == 0 {
		return true
	}

	addr = strings.ToLower(strings.TrimSpace(addr))
	allowed := false
	for _, rl := range r.rules {
		if wildcardMatch(rl.pattern, addr) {
			allowed = rl.allow
		}
	}
	return allowed
}

// Filter 返回允许转发的地址，保持原顺序。
func (r *Rules) Filter(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if r.Allowed(addr) {
			out = append(out, addr)
		}
	}
	return out
}

// wildcardMatch 匹配只含 * 通配符的模式。
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return len(s) >= len(last) && strings.HasSuffix(s, last)
}
