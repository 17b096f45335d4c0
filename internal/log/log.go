// Package log carries a zap logger through contexts. A development console
// logger is used until Structured is called.
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(levelFromEnv())
	global = mustBuild(zap.NewDevelopmentConfig())
)

func levelFromEnv() zapcore.Level {
	lvl, err := zapcore.ParseLevel(os.Getenv("LOGLEVEL"))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func mustBuild(cfg zap.Config) *zap.Logger {
	cfg.Level = level
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

// Structured switches the default logger to json output
func Structured() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l := mustBuild(cfg)
	mu.Lock()
	global = l
	mu.Unlock()
}

// SetLevel changes the level of the default logger
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// Replace installs l as the default logger. It returns a function restoring
// the previous one.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := global
	global = l
	mu.Unlock()
	return func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}
}

// L returns the default logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With returns a copy of ctx carrying l
func With(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Logger returns the logger attached to ctx, or the default one
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
