package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// ValidatePath 验证根目录是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}

	// 1. 检查路径长度
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	// 2. 检查是否包含路径遍历
	for _, elem := range strings.FieldsFunc(path, isSeparator) {
		if elem == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	return nil
}

// ValidateName 验证单个路径段（邮件 ID 或生成的附件文件名）
func (p *PlatformUtils) ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid name: %q", name)
	case strings.ContainsFunc(name, isSeparator):
		return fmt.Errorf("name contains path separator: %q", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name contains NUL: %q", name)
	}
	return nil
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	return runtime.GOOS != "windows"
}

// NormalizePath 标准化路径
func (p *PlatformUtils) NormalizePath(path string) string {
	// 1. 转换为绝对路径
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	// 2. 清理路径
	cleanPath := filepath.Clean(absPath)

	// 3. 如果文件系统不区分大小写，转换为小写
	if !p.IsCaseSensitive() {
		cleanPath = strings.ToLower(cleanPath)
	}

	return cleanPath
}

// Contains 判断 path 是否位于 root 之内
func (p *PlatformUtils) Contains(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
