// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/formpilot/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// palette maps the color names accepted in logger.colors to terminal attributes.
var palette = map[string]color.Attribute{
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

// levelPainter returns the color for a configured name, or nil when the name
// is empty or unknown. The color is emitted even when the sink is not a terminal.
func levelPainter(name string) *color.Color {
	attr, ok := palette[strings.ToLower(name)]
	if !ok {
		return nil
	}
	c := color.New(attr)
	c.EnableColor()
	return c
}

// Initialize builds the global logger from cfg. Console output goes to
// consoleWriter; cfg.LogFile adds a rotating JSON file. Only the first call
// has an effect until ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := levelOf(cfg.Level)

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(buildCores(cfg, consoleWriter, level)...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger writing to a locked Stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest clears the global logger so Initialize runs again.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// levelOf parses a level name, falling back to info.
func levelOf(name string) zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

func buildCores(cfg config.LoggerConfig, console zapcore.WriteSyncer, level zap.AtomicLevel) []zapcore.Core {
	cores := []zapcore.Core{zapcore.NewCore(newEncoder(cfg.Format, cfg.Colors), console, level)}
	if cfg.LogFile == "" {
		return cores
	}
	// The file sink is always JSON so runs can be grepped by run_id afterwards.
	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	return append(cores, zapcore.NewCore(newEncoder("json", config.ColorConfig{}), file, level))
}

// colorLevelEncoder writes upper-case level names, painted per colors.
func colorLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	painters := map[zapcore.Level]*color.Color{
		zapcore.DebugLevel: levelPainter(colors.Debug),
		zapcore.InfoLevel:  levelPainter(colors.Info),
		zapcore.WarnLevel:  levelPainter(colors.Warn),
	}
	errorPainter := levelPainter(colors.Error)

	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := level.CapitalString()
		p, ok := painters[level]
		if !ok {
			p = errorPainter
		}
		if p == nil {
			enc.AppendString(name)
			return
		}
		enc.AppendString(p.Sprint(name))
	}
}

// newEncoder returns a JSON encoder, or a single-line console encoder with
// colored levels when format is "console".
func newEncoder(format string, colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if format != "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = colorLevelEncoder(colors)
	// Suffix the component name with a dot, e.g. "formpilot.flow.".
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the global logger, or a development logger named
// "fallback" when Initialize has not run.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// ForRun scopes logger to one activation so every line carries run_id and
// tab_id.
func ForRun(logger *zap.Logger, runID, tabID string) *zap.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	return logger.With(zap.String("run_id", runID), zap.String("tab_id", tabID))
}

// Sync flushes buffered entries. Call it before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncable(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncable reports errors returned when fsync is called on a terminal or
// pipe, which say nothing about lost entries.
func unsyncable(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	return strings.Contains(err.Error(), "sync /dev/stdout")
}
