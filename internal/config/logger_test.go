package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		logFormat string
		wantLevel zapcore.Level
	}{
		{name: "debug level", logLevel: "debug", wantLevel: zapcore.DebugLevel},
		{name: "warn level console", logLevel: "warn", logFormat: "console", wantLevel: zapcore.WarnLevel},
		// Unknown levels fall back to the production default
		{name: "invalid level", logLevel: "invalid", wantLevel: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			t.Setenv("LOG_LEVEL", tt.logLevel)
			t.Setenv("LOG_FORMAT", tt.logFormat)

			require.NoError(t, InitLogger())
			require.NotNil(t, Logger)

			assert.True(t, Logger.Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, Logger.Core().Enabled(tt.wantLevel-1))
			}

			Logger.Info("test message", zap.String("test_field", "test_value"))
		})
	}
}

func TestGetLogger(t *testing.T) {
	Logger = nil
	assert.NotNil(t, GetLogger(), "GetLogger() should never return nil")

	require.NoError(t, InitLogger())
	assert.Same(t, Logger, GetLogger())
	assert.NotNil(t, Named("registry"))
}

func TestSync(t *testing.T) {
	Logger = nil
	assert.NoError(t, Sync(), "Sync() with nil logger should not return error")

	require.NoError(t, InitLogger())
	if err := Sync(); err != nil {
		// zap's sync can fail on stdout/stderr on some platforms
		t.Logf("Sync() returned error: %v", err)
	}
}
