package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BackendURL.String())
	assert.Equal(t, 640, cfg.CameraWidth)
	assert.Equal(t, 480, cfg.CameraHeight)
	assert.Equal(t, "user", cfg.CameraFacing)
	assert.Equal(t, FrameEncodingMultipart, cfg.FrameEncoding)
	assert.Equal(t, "file", cfg.FrameFieldName)
	assert.Equal(t, 60*time.Second, cfg.AnalysisTimeout)
	assert.False(t, cfg.RabbitMQEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestNew_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://posture.example.com/")
	t.Setenv("FRAME_TIMEOUT", "3s")
	t.Setenv("CAMERA_WIDTH", "1280")
	t.Setenv("FRAME_ENCODING", "JSON")
	t.Setenv("RABBITMQ_ENABLED", "true")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "https://posture.example.com", cfg.BackendURL.String())
	assert.Equal(t, 3*time.Second, cfg.FrameTimeout)
	assert.Equal(t, 1280, cfg.CameraWidth)
	assert.Equal(t, FrameEncodingJSON, cfg.FrameEncoding)
	assert.True(t, cfg.RabbitMQEnabled)
}

func TestNew_InvalidBackendURL(t *testing.T) {
	t.Setenv("BACKEND_URL", "localhost:8000")

	_, err := New()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero width":       func(c *Config) { c.CameraWidth = 0 },
		"quality too high": func(c *Config) { c.JPEGQuality = 101 },
		"bad encoding":     func(c *Config) { c.FrameEncoding = "base64" },
		"bad driver":       func(c *Config) { c.CameraDriver = "gstreamer" },
		"no upload size":   func(c *Config) { c.MaxUploadSize = 0 },
		"no timeout":       func(c *Config) { c.FrameTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := New()
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CAMERA_DRIVER=synthetic\nJPEG_QUALITY=80\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("CAMERA_DRIVER")
		os.Unsetenv("JPEG_QUALITY")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CameraDriverSynthetic, cfg.CameraDriver)
	assert.Equal(t, 80, cfg.JPEGQuality)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestDeviceForFacing(t *testing.T) {
	cfg := &Config{CameraDevice: "/dev/video0"}
	assert.Equal(t, "/dev/video0", cfg.DeviceForFacing("environment"))

	cfg.CameraDeviceEnvironment = "/dev/video2"
	assert.Equal(t, "/dev/video2", cfg.DeviceForFacing("environment"))
	assert.Equal(t, "/dev/video0", cfg.DeviceForFacing("user"))
}
