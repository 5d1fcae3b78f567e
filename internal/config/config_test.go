package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/packager/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "localhost:8081", cfg.Addr())
	assert.Equal(t, []string{"."}, cfg.Project.Roots)
	assert.Equal(t, []string{"."}, cfg.Project.AssetRoots)
	assert.Equal(t, DefaultPlatforms, cfg.Project.Platforms)
	assert.Equal(t, 50*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, []string{"InitializeCore"}, cfg.Bundler.RunBeforeMainModule)
	assert.Equal(t, "es2017", cfg.Bundler.Target)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("server.port", 9090)
	v.Set("project.roots", []string{"app", "shared"})
	v.Set("project.asset_roots", []string{"assets"})
	v.Set("watcher.debounce", "200ms")
	v.Set("logging.format", "json")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"app", "shared"}, cfg.Project.Roots)
	assert.Equal(t, []string{"assets"}, cfg.Project.AssetRoots)
	assert.Equal(t, 200*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".packager.yml")
	content := []byte("server:\n  port: 7000\nproject:\n  platforms: [ios, tvos]\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"ios", "tvos"}, cfg.Project.Platforms)
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"port out of range", "server.port", 70000},
		{"dangerous host", "server.host", "localhost;rm -rf"},
		{"negative connections", "server.max_connections", -1},
		{"root traversal", "project.roots", []string{"../outside"}},
		{"empty roots", "project.roots", []string{}},
		{"bad platform", "project.platforms", []string{"ios.x"}},
		{"bad glob", "watcher.ignore", []string{"[unterminated"}},
		{"bad level", "logging.level", "verbose"},
		{"bad format", "logging.format", "xml"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tc.key, tc.value)

			_, err := LoadFrom(v)
			require.Error(t, err)
			pe, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrorTypeConfig, pe.Type)
		})
	}
}

func TestLoadDecodeError(t *testing.T) {
	v := viper.New()
	v.Set("server.port", "not-a-port")

	_, err := LoadFrom(v)
	assert.Error(t, err)
}
