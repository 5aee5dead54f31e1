package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("写入日志文件", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "mailtrap.log")

		log, err := NewLogger(Config{Level: "info", LogFile: logFile, MaxSize: 1, Silent: true})
		require.NoError(t, err)

		log.Debug("hidden")
		log.Info("message received", zap.String("id", "msg-1"))
		_ = log.Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		content := string(data)
		assert.Contains(t, content, `"message":"message received"`)
		assert.Contains(t, content, `"id":"msg-1"`)
		assert.False(t, strings.Contains(content, "hidden"))
	})

	t.Run("无效级别回退到 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zap.InfoLevel))
		assert.False(t, log.Core().Enabled(zap.DebugLevel))
	})

	t.Run("开发环境日志", func(t *testing.T) {
		log := NewDevelopmentLogger()
		assert.True(t, log.Core().Enabled(zap.DebugLevel))
	})
}
