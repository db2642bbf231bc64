package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewHonoursLevel(t *testing.T) {
	log, err := New("warn")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	fallback, err := New("nonsense")
	require.NoError(t, err)
	assert.True(t, fallback.Core().Enabled(zapcore.InfoLevel))
}

func TestNamedNilBase(t *testing.T) {
	log := Named(nil, "svc.shift")
	require.NotNil(t, log)
	log.Info("discarded")
}

func TestMustPanicsOnError(t *testing.T) {
	assert.Panics(t, func() { Must(nil, assert.AnError) })
}
