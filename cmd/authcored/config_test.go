package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigLayersFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	accessKey := writeFile(t, dir, "access.pem", "access-secret")
	refreshKey := writeFile(t, dir, "refresh.pem", "refresh-secret")
	cfgPath := writeFile(t, dir, "authcored.yaml", strings.Join([]string{
		"auth:",
		"  jwt:",
		"    issuer: authcored-test",
		"    access_ttl: 5m",
		"    signing_method: hs256",
		"  password:",
		"    pepper: pepper",
		"  security:",
		"    enable_login_throttle: true",
		"http:",
		"  addr: \":7000\"",
		"postgres:",
		"  dsn: postgres://localhost/authcore",
		"keys:",
		"  access_private: " + accessKey,
		"  refresh_private: " + refreshKey,
		"token_store: postgres",
	}, "\n"))

	flags := NewRootCmd().PersistentFlags()
	require.NoError(t, flags.Parse([]string{"--log.format=json"}))

	cfg, err := loadConfig(cfgPath, flags)
	require.NoError(t, err)

	assert.Equal(t, "authcored-test", cfg.Auth.JWT.Issuer)
	assert.Equal(t, 5*time.Minute, cfg.Auth.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.JWT.RefreshTTL, "unset keys keep their defaults")
	assert.True(t, cfg.Auth.Security.EnableLoginThrottle)
	assert.Equal(t, ":7000", cfg.HTTP.Addr, "unchanged flags must not override the file")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, tokenStorePostgres, cfg.TokenStore)
	assert.Equal(t, []byte("access-secret"), cfg.Auth.JWT.AccessPrivateKey)
	assert.Equal(t, []byte("refresh-secret"), cfg.Auth.JWT.RefreshPrivateKey)
	assert.NoError(t, cfg.Auth.Validate())
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "authcored.yaml", "http:\n  addr: \":7000\"\n")

	flags := NewRootCmd().PersistentFlags()
	require.NoError(t, flags.Parse([]string{"--http.addr=:9999"}))

	cfg, err := loadConfig(cfgPath, flags)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		yaml string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.yaml")},
		{name: "unknown token store", yaml: "token_store: memcached\n"},
		{name: "missing key file", yaml: "keys:\n  access_private: " + filepath.Join(dir, "missing.pem") + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.yaml)
			}
			_, err := loadConfig(path, nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAppConfig().HTTP, cfg.HTTP)
	assert.Equal(t, tokenStoreRedis, cfg.TokenStore)
}

func TestNewLogger(t *testing.T) {
	var b strings.Builder
	logger, err := newLogger(logConfig{Level: "warn", Format: "json"}, &b)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, b.String(), "hidden")
	assert.Contains(t, b.String(), `"msg":"shown"`)

	_, err = newLogger(logConfig{Level: "loud"}, &b)
	assert.Error(t, err)
	_, err = newLogger(logConfig{Level: "info", Format: "xml"}, &b)
	assert.Error(t, err)
}
