package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger. Every Logger built by New shares one
// level, so SetDebug moves all of them at once.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	std   *Logger
)

func init() {
	l, err := New(os.Getenv("LOG_ENV"))
	if err != nil {
		panic(err)
	}
	std = l
}

// New builds a logger for the given LOG_ENV value. "production" writes JSON
// at info; anything else uses the development console encoder at debug.
func New(env string) (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		level.SetLevel(zapcore.DebugLevel)
	}
	config.Level = level

	z, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar()}, nil
}

// Default returns the process logger the package functions write to.
func Default() *Logger {
	return std
}

// Printf lets the logger stand in where a printf-style logger is expected,
// such as fasthttp.Server.Logger.
func (l *Logger) Printf(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func SetDebug(debug bool) {
	if debug {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

func Info(msg string, values ...any) {
	std.sugar.Infow(msg, values...)
}

func Warn(msg string, values ...any) {
	std.sugar.Warnw(msg, values...)
}

func Error(msg string, values ...any) {
	std.sugar.Errorw(msg, values...)
}

func Debug(msg string, values ...any) {
	std.sugar.Debugw(msg, values...)
}

func Panic(msg string, values ...any) {
	std.sugar.Panicw(msg, values...)
}
