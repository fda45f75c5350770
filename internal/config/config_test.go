package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 120*time.Second, cfg.UploadTimeout())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, uint32(0xf6f9fc), cfg.BackgroundColor())
	assert.Equal(t, "0.0.0.0:8000", cfg.GetServerAddr())
	require.NoError(t, cfg.Validate())

	cfg.Server.UploadRateLimit = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Client, cfg.Client)
	})

	t.Run("reads yaml and resolves relative paths", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "inspector.yaml")
		content := `
client:
  api_base: http://backend:9000
  upload_timeout_seconds: 30
  poll_interval_ms: 500
viewer:
  background_color: "#000000"
  asset_directory: assets
server:
  uploads_directory: up
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "http://backend:9000", cfg.Client.APIBase)
		assert.Equal(t, 30*time.Second, cfg.UploadTimeout())
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
		assert.Equal(t, uint32(0), cfg.BackgroundColor())
		assert.Equal(t, filepath.Join(dir, "assets"), cfg.Viewer.AssetDirectory)
		assert.Equal(t, filepath.Join(dir, "up"), cfg.Server.UploadsDirectory)
		// untouched keys keep their defaults
		assert.Equal(t, 520, cfg.Viewer.Height)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0644))

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid background colour", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("viewer:\n  background_color: blue\n"), 0644))

		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "background_color")
	})
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("INSPECTOR_API_BASE", "http://env-host")
	t.Setenv("INSPECTOR_POLL_INTERVAL_MS", "750")
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://env-host", cfg.Client.APIBase)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devserver.yaml")

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 8000, cfg.Server.Port)

	// second load reads the written file back
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Client, again.Client)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"#f6f9fc", 0xf6f9fc, false},
		{"FF8800", 0xff8800, false},
		{"0x999999", 0x999999, false},
		{"#fff", 0, true},
		{"zzzzzz", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
