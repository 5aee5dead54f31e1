package service

import "time"

// Metrics 邮件服务的指标记录，由 monitoring 包实现。
type Metrics interface {
	RecordReceived(size int64, attachments int, elapsed time.Duration)
	RecordIngestFailure(kind string)
	RecordDeleted(count int)
	RecordRelayed(success bool)
	SetStoredMessages(count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordReceived(int64, int, time.Duration) {}
func (noopMetrics) RecordIngestFailure(string)               {}
func (noopMetrics) RecordDeleted(int)                        {}
func (noopMetrics) RecordRelayed(bool)                       {}
func (noopMetrics) SetStoredMessages(int)                    {}
