package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLoggerConfig(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		level       string
		format      string
		wantLevel   zapcore.Level
		wantEncode  string
		wantSampled bool
	}{
		{"production json", "production", "warn", "json", zapcore.WarnLevel, "json", true},
		{"development console", "development", "debug", "console", zapcore.DebugLevel, "console", false},
		{"unknown level falls back to info", "production", "loud", "json", zapcore.InfoLevel, "json", true},
		{"unknown format is console", "development", "error", "xml", zapcore.ErrorLevel, "console", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := loggerConfig(tt.environment, tt.level, tt.format)
			assert.Equal(t, tt.wantLevel, config.Level.Level())
			assert.Equal(t, tt.wantEncode, config.Encoding)
			assert.Equal(t, tt.wantSampled, config.Sampling != nil)
			assert.Equal(t, []string{"stdout"}, config.OutputPaths)
		})
	}
}

func TestEmailFieldIsMasked(t *testing.T) {
	field := Email("alice@example.com")
	assert.Equal(t, "email", field.Key)
	assert.Equal(t, MaskEmail("alice@example.com"), field.String)
	assert.NotContains(t, field.String, "alice@")
}
