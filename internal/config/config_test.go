package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HOST", "PORT", "MODEL_PATH", "MANIFEST_PATH", "INFERENCE_BACKEND", "RATE_LIMIT", "CORS_ALLOWED_ORIGINS", "EXPOSE_LOGS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Address())
	assert.Equal(t, BackendOpenCV, cfg.Backend)
	assert.Equal(t, filepath.Join("models", "plant_disease_resnet50.json"), filepath.Clean(cfg.ManifestPath))
	assert.Equal(t, int64(10<<20), cfg.MaxUploadSize)
	assert.Equal(t, "file", cfg.UploadField)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 60, cfg.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.ExposeLogs)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_PATH", "/srv/models/leaf.onnx")
	t.Setenv("MANIFEST_PATH", "")
	t.Setenv("INFERENCE_BACKEND", "ONNXRuntime")
	t.Setenv("REQUEST_TIMEOUT", "5")
	t.Setenv("RATE_WINDOW", "10s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://leaf.example.org ,")
	t.Setenv("DEBUG", "true")
	t.Setenv("EXPOSE_LOGS", "1")

	cfg := Load()

	assert.Equal(t, "127.0.0.1:9090", cfg.Address())
	assert.Equal(t, "/srv/models/leaf.onnx", cfg.ModelPath)
	assert.Equal(t, "/srv/models/leaf.json", cfg.ManifestPath)
	assert.Equal(t, BackendONNXRuntime, cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.RateWindow)
	assert.Equal(t, []string{"http://localhost:3000", "https://leaf.example.org"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.ExposeLogs)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("MAX_UPLOAD_SIZE", "lots")
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("DEBUG", "maybe")
	t.Setenv("CORS_ALLOWED_METHODS", " , ")

	cfg := Load()

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.CORSAllowedMethods)
}

func TestDefaultManifestPath(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"models/leaf.onnx", "models/leaf.json"},
		{"/abs/net.pb", "/abs/net.json"},
		{"noext", "noext.json"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, DefaultManifestPath(tt.model), tt.model)
	}
}
