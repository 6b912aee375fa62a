package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	Log = newConsole(false)
}

func newConsole(json bool) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if json {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level)
	// helpers below add one frame
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Setup replaces the process logger. lvl is one of debug/info/warn/error;
// anything else keeps debug.
func Setup(lvl string, json bool) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		l = zapcore.DebugLevel
	}
	level.SetLevel(l)
	Log = newConsole(json)
}

// Named returns a child logger without the helper caller skip, for packages
// that log structured fields directly.
func Named(name string) *zap.Logger {
	return Log.WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

func Sync() { _ = Log.Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	Log.Debug(fmt.Sprintf(format, args...))
}
