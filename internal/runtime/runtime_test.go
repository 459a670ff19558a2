package runtime

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("info", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}

func TestTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
