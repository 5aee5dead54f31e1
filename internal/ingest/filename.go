package ingest

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode"
)

const maxFileNameLength = 200

// 所有平台都不允许出现在文件名中的字符
var invalidFileNameChars = []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}

// GenerateFileName 根据原始文件名和内容类型生成路径安全的文件名。
// 原始文件名为空时使用 attachment 加上内容类型对应的扩展名。
func GenerateFileName(filename, contentType string) string {
	name := SanitizeFileName(filename)
	if name != "" {
		return name
	}
	return "attachment" + extensionFor(contentType)
}

// SanitizeFileName 清理文件名，确保跨平台兼容；无法得到有效名称时返回空字符串。
func SanitizeFileName(filename string) string {
	// 1. 统一分隔符后只保留最后一段
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" {
		return ""
	}

	// 2. 替换不允许的字符
	for _, char := range invalidFileNameChars {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	// 3. 移除控制字符
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	// 4. 移除前后空格和点，避免隐藏文件和 ".."
	filename = strings.Trim(filename, " .")

	// 5. 限制长度
	return limitLength(filename, maxFileNameLength)
}

// limitLength 截断文件名并保留扩展名。
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	ext := filepath.Ext(s)
	if len(ext) >= maxLen {
		ext = ""
	}
	stem := strings.TrimSuffix(s, ext)
	available := maxLen - len(ext)
	// 不在多字节字符中间截断
	for available > 0 && !isRuneStart(stem, available) {
		available--
	}
	return stem[:available] + ext
}

func isRuneStart(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}

func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// nameSet 保证同一封邮件内生成的文件名唯一（不区分大小写）。
type nameSet struct {
	taken map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{taken: make(map[string]bool)}
}

// reserve 返回 name，冲突时依次尝试 name-1.ext、name-2.ext……
func (n *nameSet) reserve(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; n.taken[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	n.taken[strings.ToLower(candidate)] = true
	return candidate
}
