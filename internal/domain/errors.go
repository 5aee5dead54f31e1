package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStream 入站字节流读取失败或被取消。
	ErrStream = errors.New("stream error")
	// ErrSink 原始邮件或附件输出流打开、写入或关闭失败。
	ErrSink = errors.New("sink error")
	// ErrConfiguration 组件装配错误，例如附件输出流工厂返回了 nil。
	ErrConfiguration = errors.New("configuration error")
	// ErrParse MIME 结构无法解析。
	ErrParse = errors.New("parse error")

	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrDuplicateID        = errors.New("duplicate message id")

	ErrRelayDisabled = errors.New("relay is not configured")
	ErrRelayRejected = errors.New("recipient rejected by relay rules")
)

// StreamError 包装入站流的读取错误。
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrStream, e.Err}
}

// SinkError 包装输出流错误，Location 为目标文件。
type SinkError struct {
	Location string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Location, e.Err)
}

func (e *SinkError) Unwrap() []error {
	return []error{ErrSink, e.Err}
}

// PartialDeleteError 索引已经删除，但部分磁盘文件清理失败。
type PartialDeleteError struct {
	Deleted  int
	Failures []error
}

func (e *PartialDeleteError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("deleted %d message(s), %d file cleanup failure(s): %s",
		e.Deleted, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *PartialDeleteError) Unwrap() []error {
	return e.Failures
}

// IsPartialDelete 判断错误是否为部分删除。
func IsPartialDelete(err error) bool {
	var pde *PartialDeleteError
	return errors.As(err, &pde)
}
