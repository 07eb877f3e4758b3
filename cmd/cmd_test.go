package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openapi-mesh-handler/config"
	"openapi-mesh-handler/testserver"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		expectErr bool
		expected  zerolog.Level
	}{
		{name: "json info", level: "info", format: "json", expected: zerolog.InfoLevel},
		{name: "console debug", level: "debug", format: "console", expected: zerolog.DebugLevel},
		{name: "invalid", level: "loud", format: "json", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := setupLogger(&buf, tt.level, tt.format)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, log.GetLevel())

			log.Info().Msg("hello")
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestServeMissingConfig(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestBuildServer(t *testing.T) {
	upstream := httptest.NewServer(testserver.New())
	t.Cleanup(upstream.Close)

	path := filepath.Join(t.TempDir(), "petstore.yaml")
	require.NoError(t, os.WriteFile(path, testserver.Document(upstream.URL), 0o600))

	cfg := &config.Config{
		Sources: []config.Source{
			{Name: "Petstore", Handler: config.Handler{Openapi: &config.OpenapiHandler{Source: path}}},
			{Name: "Remote", Handler: config.Handler{Openapi: &config.OpenapiHandler{Source: upstream.URL + "/openapi.yaml"}}},
		},
		Server: config.Server{CacheSize: 16},
	}
	nop := zerolog.Nop()

	srv, err := buildServer(context.Background(), cfg, &nop)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, srv.LocalSources())
}

func TestBuildServerSourceError(t *testing.T) {
	cfg := &config.Config{
		Sources: []config.Source{
			{Name: "Broken", Handler: config.Handler{Openapi: &config.OpenapiHandler{Source: filepath.Join(t.TempDir(), "nope.yaml")}}},
		},
		Server: config.Server{CacheSize: 16},
	}
	nop := zerolog.Nop()

	_, err := buildServer(context.Background(), cfg, &nop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to build source "Broken"`)
}
