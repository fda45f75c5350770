package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		debug   bool
		wantErr bool
	}{
		{"console info", config.LoggingConfig{Level: "info", Format: "console"}, false, false},
		{"json debug", config.LoggingConfig{Level: "DEBUG", Format: "json"}, true, false},
		{"empty format defaults to console", config.LoggingConfig{Level: "warn"}, false, false},
		{"bad level", config.LoggingConfig{Level: "loud"}, false, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
