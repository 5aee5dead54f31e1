package idgen

import "github.com/google/uuid"

// Generator 为每封入站邮件分配唯一 ID。
type Generator interface {
	NewID() string
}

// UUIDGenerator 使用随机 UUID 作为邮件 ID。
type UUIDGenerator struct{}

// NewID 返回新的 UUID 字符串。
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// New 返回默认生成器。
func New() Generator {
	return UUIDGenerator{}
}

// Func 把普通函数适配为 Generator，测试中用于固定 ID。
type Func func() string

// NewID 调用 f。
func (f Func) NewID() string {
	return f()
}
