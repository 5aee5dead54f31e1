// Package memory 已完成邮件的内存索引。邮件内容本身保存在文件存储中。
package memory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
)

// Files 邮件文件的读取与清理，由 filesystem.Store 实现。
type Files interface {
	Init() error
	Open(location string) (io.ReadCloser, error)
	RemoveMessage(id string) error
	RemoveAll() (int, []error)
}

// Store 使用内存保存邮件索引，按完成顺序排列。
type Store struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message // messageID -> message
	order    []string                   // 完成顺序

	files Files
	log   *zap.Logger
}

var _ domain.MessageStore = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore(files Files, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		messages: make(map[string]*domain.Message),
		files:    files,
		log:      log,
	}
}

// Init 确保邮件目录存在，可重复调用。
func (s *Store) Init() error {
	return s.files.Init()
}

// Put 追加一封已完成的邮件。
func (s *Store) Put(message *domain.Message) error {
	if message == nil || message.ID == "" {
		return fmt.Errorf("%w: message without id", domain.ErrConfiguration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[message.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, message.ID)
	}
	s.messages[message.ID] = message.Clone()
	s.order = append(s.order, message.ID)
	return nil
}

// Get 根据 ID 获取邮件副本。
func (s *Store) Get(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	return message.Clone(), nil
}

// List 按完成顺序返回所有邮件的副本。
func (s *Store) List() []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Message, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.messages[id].Clone())
	}
	return result
}

// Count 返回邮件数量。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// RawReader 打开邮件原始内容。
func (s *Store) RawReader(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	message, ok := s.messages[id]
	var source string
	if ok {
		source = message.Source
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}

	r, err := s.files.Open(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s source missing", domain.ErrMessageNotFound, id)
		}
		return nil, err
	}
	return r, nil
}

// AttachmentReader 打开附件内容，返回附件的内容类型。
func (s *Store) AttachmentReader(id, generatedFileName string) (string, io.ReadCloser, error) {
	s.mu.RLock()
	message, ok := s.messages[id]
	var contentType, source string
	found := false
	if ok {
		if att, exists := message.Attachment(generatedFileName); exists {
			contentType, source, found = att.ContentType, att.Source, true
		}
	}
	s.mu.RUnlock()

	if !ok {
		return "", nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	if !found {
		return "", nil, fmt.Errorf("%w: %s/%s", domain.ErrAttachmentNotFound, id, generatedFileName)
	}

	r, err := s.files.Open(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s/%s", domain.ErrAttachmentNotFound, id, generatedFileName)
		}
		return "", nil, err
	}
	return contentType, r, nil
}

// MarkRead 标记单封邮件为已读。
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	message.Read = true
	return nil
}

// MarkAllRead 标记所有未读邮件为已读，返回本次改变的数量。
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, message := range s.messages {
		if !message.Read {
			message.Read = true
			count++
		}
	}
	return count
}

// Delete 删除邮件索引及其文件。
// 索引删除后文件清理失败时返回 *domain.PartialDeleteError。
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.messages[id]
	if ok {
		delete(s.messages, id)
		if idx := slices.Index(s.order, id); idx >= 0 {
			s.order = slices.Delete(s.order, idx, idx+1)
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}

	if err := s.files.RemoveMessage(id); err != nil {
		s.log.Warn("failed to remove message files", zap.String("id", id), zap.Error(err))
		return &domain.PartialDeleteError{Deleted: 1, Failures: []error{err}}
	}
	return nil
}

// DeleteAll 清空索引并清理邮件目录，返回删除的邮件数量。
// 正在接收中的邮件文件也会被清理。
func (s *Store) DeleteAll() (int, error) {
	s.mu.Lock()
	count := len(s.order)
	s.messages = make(map[string]*domain.Message)
	s.order = nil
	s.mu.Unlock()

	removed, failures := s.files.RemoveAll()
	s.log.Info("deleted all messages",
		zap.Int("messages", count),
		zap.Int("entries_removed", removed),
		zap.Int("failures", len(failures)))

	if len(failures) > 0 {
		return count, &domain.PartialDeleteError{Deleted: count, Failures: failures}
	}
	return count, nil
}
