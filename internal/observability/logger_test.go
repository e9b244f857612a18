// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// initBuffered resets the global logger and points it at an in-memory buffer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("ConsoleWithColors", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "formpilot",
			Colors:      config.ColorConfig{Info: "green"},
		})

		green := color.New(color.FgGreen)
		green.EnableColor()

		GetLogger().Named("flow").Info("stage detected")
		Sync()

		out := buf.String()
		assert.Contains(t, out, green.Sprint("INFO"))
		assert.Contains(t, out, "formpilot.flow.")
		assert.Contains(t, out, "stage detected")
	})

	t.Run("JSON", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})

		GetLogger().Warn("record absent", zap.String("email", "a@x.com"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "record absent", entry["msg"])
		assert.Equal(t, "a@x.com", entry["email"])
	})

	t.Run("UnknownColorIsPlain", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:  "warn",
			Format: "console",
			Colors: config.ColorConfig{Warn: "chartreuse"},
		})

		GetLogger().Warn("plain level")
		Sync()

		assert.Contains(t, buf.String(), "\tWARN\t")
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("LevelFiltering", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Info("hidden")
		GetLogger().Warn("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("RotatingFile", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "formpilot.log")
		initBuffered(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, string(content), `"level":"ERROR"`, "file sink is always JSON")
	})

	t.Run("OnlyOnce", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("FallbackBeforeInitialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("ReturnsGlobal", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestForRun(t *testing.T) {
	t.Run("TagsEveryLine", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json"})

		log := ForRun(GetLogger().Named("flow"), "run-7", "tab-1")
		log.Info("stage detected")
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "run-7", entry["run_id"])
		assert.Equal(t, "tab-1", entry["tab_id"])
	})

	t.Run("NilUsesGlobal", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "formpilot"})

		ForRun(nil, "run-8", "tab-2").Info("activated")
		Sync()

		assert.Contains(t, buf.String(), `"logger":"formpilot"`)
		assert.Contains(t, buf.String(), `"run_id":"run-8"`)
	})
}

func TestUnsyncable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"EINVAL", &os.PathError{Op: "sync", Path: "/dev/stdout", Err: syscall.EINVAL}, true},
		{"ENOTTY", &os.PathError{Op: "sync", Path: "pipe", Err: syscall.ENOTTY}, true},
		{"DiskFull", &os.PathError{Op: "sync", Path: "/var/log/formpilot.log", Err: syscall.ENOSPC}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unsyncable(tt.err))
		})
	}
}
