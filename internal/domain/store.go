package domain

import "io"

// MessageStore 已完成邮件的索引
type MessageStore interface {
	Init() error
	Put(message *Message) error
	Get(id string) (*Message, error)
	List() []*Message
	Search(criteria SearchCriteria) *SearchResult
	Count() int
	RawReader(id string) (io.ReadCloser, error)
	AttachmentReader(id, generatedFileName string) (string, io.ReadCloser, error)
	MarkRead(id string) error
	MarkAllRead() int
	Delete(id string) error
	DeleteAll() (int, error)
}
