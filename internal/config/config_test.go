package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Authz.MaxHierarchyDepth)
	assert.Equal(t, 100, cfg.Authz.MaxPermissionsPerRole)
	assert.Equal(t, "DENY", cfg.Authz.DefaultEffect)
	assert.Equal(t, "authorization-service", cfg.Events.ConsumerGroup)
	assert.Equal(t, "nnipa.events.tenant.created", cfg.Events.Topics.TenantCreated)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval.Std())
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.yaml")
	content := `
server:
  http_port: 8181
log:
  level: debug
  format: console
cache:
  backend: lru
  ttl: 90s
events:
  consumer_workers: 4
  topics:
    tenant_created: custom.tenant.created
authz:
  max_hierarchy_depth: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "lru", cfg.Cache.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL.Std())
	assert.Equal(t, 4, cfg.Events.ConsumerWorkers)
	assert.Equal(t, "custom.tenant.created", cfg.Events.Topics.TenantCreated)
	assert.Equal(t, 6, cfg.Authz.MaxHierarchyDepth)

	// Untouched keys keep their defaults.
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, 5, cfg.Events.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	t.Setenv("AUTHZ_LOG_LEVEL", "error")
	t.Setenv("AUTHZ_HTTP_PORT", "8282")
	t.Setenv("AUTHZ_CACHE_TTL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 8282, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL.Std())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "http_port"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"bad backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache backend"},
		{"bad effect", func(c *Config) { c.Authz.DefaultEffect = "MAYBE" }, "default_effect"},
		{"zero workers", func(c *Config) { c.Events.ConsumerWorkers = 0 }, "consumer_workers"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" }, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWatcherAppliesChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, w.Watch(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver reloaded config")
	}
}

func TestWatcherKeepsOldConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	calls := make(chan struct{}, 4)
	w, err := NewWatcher(path, func(*Config) { calls <- struct{}{} }, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Stop() })
	require.NoError(t, w.Watch(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("log: [broken"), 0o600))

	select {
	case <-calls:
		t.Fatal("callback must not fire for an unparseable file")
	case <-time.After(300 * time.Millisecond):
	}
}
