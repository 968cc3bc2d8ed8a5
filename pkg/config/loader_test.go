package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadMissingDirectoryFallsBackToDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"))

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.NotNil(t, cfg.Packs)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoader_LoadMergesMultipleYAMLFilesAndExpandsEnv(t *testing.T) {
	t.Setenv("BANKASSIST_TEST_API_KEY", "secret-123")
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.yaml"), []byte(`
server:
  host: 127.0.0.1
  port: 9090
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.yaml"), []byte(`
server:
  api_keys:
    - ${BANKASSIST_TEST_API_KEY}
`), 0o644))

	loader := NewLoader(dir)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"secret-123"}, cfg.Server.APIKeys)
}

func TestLoader_LoadRejectsInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logger.yaml"), []byte(`
logger:
  format: xml
`), 0o644))

	loader := NewLoader(dir)
	_, err := loader.Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
