package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("TRAMLINE_SERVE_PORT=9191\nTRAMLINE_BUILD_DIST=\"public\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"),
		[]byte("TRAMLINE_SERVE_PORT=7000\nTRAMLINE_LOG_LEVEL=debug\n"), 0o644))

	t.Setenv("TRAMLINE_SERVE_PORT", "")
	t.Setenv("TRAMLINE_BUILD_DIST", "")
	t.Setenv("TRAMLINE_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("TRAMLINE_SERVE_PORT"))
	require.NoError(t, os.Unsetenv("TRAMLINE_BUILD_DIST"))
	require.NoError(t, os.Unsetenv("TRAMLINE_LOG_LEVEL"))

	loaded, err := LoadEnvFiles(dir)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	assert.Equal(t, "9191", os.Getenv("TRAMLINE_SERVE_PORT"))
	assert.Equal(t, "public", os.Getenv("TRAMLINE_BUILD_DIST"))
	assert.Equal(t, "debug", os.Getenv("TRAMLINE_LOG_LEVEL"))
}

func TestLoadEnvFilesKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRAMLINE_SERVE_HOST=0.0.0.0\n"), 0o644))
	t.Setenv("TRAMLINE_SERVE_HOST", "127.0.0.2")

	_, err := LoadEnvFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.2", os.Getenv("TRAMLINE_SERVE_HOST"))
}

func TestLoadEnvFilesMissing(t *testing.T) {
	loaded, err := LoadEnvFiles(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestEnvironmentReachesConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRAMLINE_SERVE_PORT=9292\n"), 0o644))
	t.Setenv("TRAMLINE_SERVE_PORT", "")
	require.NoError(t, os.Unsetenv("TRAMLINE_SERVE_PORT"))

	_, err := LoadEnvFiles(dir)
	require.NoError(t, err)

	v := viper.New()
	BindEnv(v)
	config, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9292, config.Serve.Port)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, FindConfigFile(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tramline.yml"), []byte("build: {}\n"), 0o644))
	assert.Equal(t, filepath.Join(dir, ".tramline.yml"), FindConfigFile(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Tramline.yaml"), []byte("build: {}\n"), 0o644))
	assert.Equal(t, filepath.Join(dir, "Tramline.yaml"), FindConfigFile(dir))
}
