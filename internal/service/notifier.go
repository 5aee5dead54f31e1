package service

import "mailtrap/backend/internal/domain"

// Notifier 接收邮件事件。回调在调用方 goroutine 中同步执行，实现不应阻塞。
type Notifier interface {
	OnNewMessage(message *domain.Message)
	OnDeleted(id string)
	OnDeletedAll()
}

// NotifierFuncs 把函数适配为 Notifier，未设置的回调被忽略。
type NotifierFuncs struct {
	NewMessage func(message *domain.Message)
	Deleted    func(id string)
	DeletedAll func()
}

func (f NotifierFuncs) OnNewMessage(message *domain.Message) {
	if f.NewMessage != nil {
		f.NewMessage(message)
	}
}

func (f NotifierFuncs) OnDeleted(id string) {
	if f.Deleted != nil {
		f.Deleted(id)
	}
}

func (f NotifierFuncs) OnDeletedAll() {
	if f.DeletedAll != nil {
		f.DeletedAll()
	}
}
