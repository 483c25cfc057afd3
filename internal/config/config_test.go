package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50*time.Millisecond, cfg.World.TickInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.Watcher.Interval())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.yml")
	data := `
data_dir: /srv/regions
world:
  name: lobby
  max_y: 255
persistence:
  compression: zstd
  build_method: balanced
storage:
  driver: badger
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/regions", cfg.DataDir)
	assert.Equal(t, "lobby", cfg.World.Name)
	assert.Equal(t, 255, cfg.World.MaxY)
	assert.Equal(t, 64, cfg.World.TasksPerTick, "значение по умолчанию сохраняется")
	assert.Equal(t, "zstd", cfg.Persistence.Compression)
	assert.Equal(t, "balanced", cfg.Persistence.BuildMethod)
	assert.Equal(t, "badger", cfg.Storage.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("persistence:\n  build_method: turbo\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"min_y >= max_y":  func(c *Config) { c.World.MinY = c.World.MaxY },
		"workers":         func(c *Config) { c.Persistence.Workers = 0 },
		"compression":     func(c *Config) { c.Persistence.Compression = "lz4" },
		"storage driver":  func(c *Config) { c.Storage.Driver = "postgres" },
		"eventbus driver": func(c *Config) { c.EventBus.Driver = "kafka" },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = -0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithoutPath(t *testing.T) {
	t.Setenv("REGIONS_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestMetricsPortFallback(t *testing.T) {
	m := MetricsConfig{}
	t.Setenv("REGIONS_METRICS_PORT", "9100")
	assert.Equal(t, 9100, m.GetPort())

	m.Port = 9200
	assert.Equal(t, 9200, m.GetPort())
}
