package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/errdefs"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	doc := `
log:
  level: debug
storage:
  backend: bolt
  data_dir: /tmp/burrow
fanout:
  max_concurrency: 4
  timeout: 30s
logs:
  path_template: /var/log/{app}.log
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	t.Setenv("BURROW_MAX_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/burrow", cfg.Storage.DataDir)
	assert.Equal(t, 8, cfg.Fanout.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Fanout.Timeout)
	assert.Equal(t, "/var/log/{app}.log", cfg.Logs.PathTemplate)
	assert.Equal(t, 22, cfg.SSH.Port)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unterminated"), 0600))

	_, err := Load(path)
	assert.True(t, errdefs.IsValidation(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, true},
		{"etcd without endpoints", func(c *Config) { c.Storage.Backend = BackendEtcd }, true},
		{"etcd with endpoints", func(c *Config) {
			c.Storage.Backend = BackendEtcd
			c.Storage.EtcdEndpoints = []string{"127.0.0.1:2379"}
		}, false},
		{"zero concurrency", func(c *Config) { c.Fanout.MaxConcurrency = 0 }, true},
		{"bad port", func(c *Config) { c.SSH.Port = 70000 }, true},
		{"template without app", func(c *Config) { c.Logs.PathTemplate = "/var/log/out.log" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errdefs.IsValidation(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
