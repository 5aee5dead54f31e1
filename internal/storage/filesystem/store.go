// Package filesystem 邮件文件存储：为每封邮件提供原始文件和附件文件的输出流。
//
// 目录布局：
//
//	<root>/<id>.eml
//	<root>/<id>/<generatedFileName>
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"mailtrap/backend/internal/domain"
)

const (
	rawExt   = ".eml"
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store 文件系统存储实现
type Store struct {
	fs            afero.Fs       // 底层文件系统，生产环境为 OsFs
	basePath      string         // 邮件存储根目录
	platformUtils *PlatformUtils // 平台兼容性工具
	log           *zap.Logger
}

// StorageStats 存储统计信息
type StorageStats struct {
	BasePath        string `json:"basePath"`
	MessageCount    int    `json:"messageCount"`
	AttachmentCount int    `json:"attachmentCount"`
	TotalBytes      int64  `json:"totalBytes"`
}

// NewStore 在操作系统文件系统上创建存储实例
func NewStore(basePath string, log *zap.Logger) (*Store, error) {
	return NewStoreWithFs(afero.NewOsFs(), basePath, log)
}

// NewStoreWithFs 在指定文件系统上创建存储实例
func NewStoreWithFs(fs afero.Fs, basePath string, log *zap.Logger) (*Store, error) {
	platformUtils := NewPlatformUtils()

	// 验证基础路径
	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("%w: invalid base path: %w", domain.ErrConfiguration, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Store{
		fs:            fs,
		basePath:      platformUtils.NormalizePath(basePath),
		platformUtils: platformUtils,
		log:           log,
	}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Init 确保根目录存在，可重复调用
func (s *Store) Init() error {
	if err := s.fs.MkdirAll(s.basePath, dirPerm); err != nil {
		return &domain.SinkError{Location: s.basePath, Err: err}
	}
	return nil
}

// ========== 输出流 ==========

// RawSink 创建 <root>/<id>.eml 并返回其写入器，文件已存在时返回 fs.ErrExist
func (s *Store) RawSink(id string) (string, io.WriteCloser, error) {
	location := s.rawPath(id)
	if err := s.platformUtils.ValidateName(id); err != nil {
		return location, nil, err
	}
	if err := s.fs.MkdirAll(s.basePath, dirPerm); err != nil {
		return location, nil, err
	}
	f, err := s.fs.OpenFile(location, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return location, nil, err
	}
	return location, f, nil
}

// AttachmentSink 创建 <root>/<id>/<name> 并返回其写入器，邮件目录按需创建
func (s *Store) AttachmentSink(id, generatedFileName string) (string, io.WriteCloser, error) {
	location := s.attachmentPath(id, generatedFileName)
	if err := s.platformUtils.ValidateName(id); err != nil {
		return location, nil, err
	}
	if err := s.platformUtils.ValidateName(generatedFileName); err != nil {
		return location, nil, err
	}
	// MkdirAll 对已存在的目录无副作用，多个附件并发创建也安全
	if err := s.fs.MkdirAll(s.messageDir(id), dirPerm); err != nil {
		return location, nil, err
	}
	f, err := s.fs.OpenFile(location, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return location, nil, err
	}
	return location, f, nil
}

// ========== 读取 ==========

// Open 打开由 RawSink/AttachmentSink 返回的位置
func (s *Store) Open(location string) (io.ReadCloser, error) {
	if !s.platformUtils.Contains(s.basePath, location) {
		return nil, fmt.Errorf("location outside storage root: %s", location)
	}
	return s.fs.Open(location)
}

// OpenRaw 打开邮件原始内容
func (s *Store) OpenRaw(id string) (io.ReadCloser, error) {
	if err := s.platformUtils.ValidateName(id); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	f, err := s.fs.Open(s.rawPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
		}
		return nil, fmt.Errorf("failed to open raw message: %w", err)
	}
	return f, nil
}

// OpenAttachment 打开邮件附件
func (s *Store) OpenAttachment(id, generatedFileName string) (io.ReadCloser, error) {
	if s.platformUtils.ValidateName(id) != nil || s.platformUtils.ValidateName(generatedFileName) != nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrAttachmentNotFound, id, generatedFileName)
	}
	f, err := s.fs.Open(s.attachmentPath(id, generatedFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrAttachmentNotFound, id, generatedFileName)
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return f, nil
}

// ========== 清理操作 ==========

// RemoveMessage 删除邮件的原始文件和附件目录，不存在的文件不视为错误
func (s *Store) RemoveMessage(id string) error {
	if err := s.platformUtils.ValidateName(id); err != nil {
		return err
	}

	var errs []error
	if err := s.fs.Remove(s.rawPath(id)); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove %s: %w", s.rawPath(id), err))
	}
	if err := s.fs.RemoveAll(s.messageDir(id)); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", s.messageDir(id), err))
	}
	return errors.Join(errs...)
}

// RemoveAll 尽力删除根目录下的所有条目，返回删除数量和失败列表
func (s *Store) RemoveAll() (int, []error) {
	entries, err := afero.ReadDir(s.fs, s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []error{fmt.Errorf("read %s: %w", s.basePath, err)}
	}

	removed := 0
	var failures []error
	for _, entry := range entries {
		path := filepath.Join(s.basePath, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			s.log.Warn("failed to remove storage entry", zap.String("path", path), zap.Error(err))
			failures = append(failures, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, failures
}

// ========== 统计与健康检查 ==========

// Stats 获取存储统计信息
func (s *Store) Stats() (StorageStats, error) {
	stats := StorageStats{BasePath: s.basePath}

	err := afero.Walk(s.fs, s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if info.IsDir() {
			return nil
		}

		stats.TotalBytes += info.Size()
		if filepath.Dir(path) == s.basePath {
			if strings.HasSuffix(path, rawExt) {
				stats.MessageCount++
			}
			return nil
		}
		stats.AttachmentCount++
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// Health 检查根目录可写
func (s *Store) Health() error {
	probe := filepath.Join(s.basePath, fmt.Sprintf(".probe-%d", time.Now().UnixNano()))
	if err := afero.WriteFile(s.fs, probe, nil, filePerm); err != nil {
		return fmt.Errorf("storage not writable: %w", err)
	}
	return s.fs.Remove(probe)
}

// ========== 辅助方法 ==========

func (s *Store) rawPath(id string) string {
	return filepath.Join(s.basePath, id+rawExt)
}

func (s *Store) messageDir(id string) string {
	return filepath.Join(s.basePath, id)
}

func (s *Store) attachmentPath(id, generatedFileName string) string {
	return filepath.Join(s.basePath, id, generatedFileName)
}
