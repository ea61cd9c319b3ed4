package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("写入轮转文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mailroom.log")

		log, err := NewLogger(Config{Service: "mailroom", Level: "debug", LogFile: file})
		require.NoError(t, err)

		log.Info("hello")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
		assert.Contains(t, string(data), `"service":"mailroom"`)
	})

	t.Run("非法级别回退到 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "loud"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(-1)) // debug
		assert.True(t, log.Core().Enabled(0))   // info
	})

	t.Run("开发日志", func(t *testing.T) {
		assert.NotNil(t, NewDevelopmentLogger())
	})
}
