package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)

	ctx := With(context.Background(), l)
	Logger(ctx).Info("hello", zap.Int("tile", 3))

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["tile"])
}

func TestLoggerDefault(t *testing.T) {
	assert.Equal(t, L(), Logger(context.Background()))
}

func TestReplace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	Warn("dropped")
	Debug("invisible")
	restore()
	Warn("not observed")

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}
