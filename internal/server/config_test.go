package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "t962", cfg.Oven.Type)
	assert.Equal(t, 115200, cfg.Oven.BaudRate)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}, cfg.Oven.Candidates)
	assert.Equal(t, 6, cfg.Automation.Profiles)
	assert.Equal(t, 5*time.Second, cfg.Automation.IdleThreshold())
	assert.True(t, cfg.Export.Enabled)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop().Sugar())
	assert.Equal(t, DefaultConfig().Oven, cfg.Oven)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oven:
  type: demo
  demo_tick_ms: 10
automation:
  profiles: 3
export:
  images: false
`), 0644))

	cfg := LoadConfig(path, zap.NewNop().Sugar())

	assert.Equal(t, "demo", cfg.Oven.Type)
	assert.Equal(t, 10, cfg.Oven.DemoTickMs)
	assert.Equal(t, 115200, cfg.Oven.BaudRate, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Automation.Profiles)
	assert.False(t, cfg.Export.Images)
	assert.True(t, cfg.Export.Enabled)
}

func TestLoadConfigBadYAMLFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oven: [unterminated"), 0644))

	cfg := LoadConfig(path, zap.NewNop().Sugar())
	assert.Equal(t, "t962", cfg.Oven.Type)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REFLOW_OVEN", "demo")
	t.Setenv("REFLOW_PORT", "/dev/ttyACM0")
	t.Setenv("REFLOW_BAUD", "57600")
	t.Setenv("REFLOW_PROFILES", "2")
	t.Setenv("REFLOW_IDLE_S", "9")
	t.Setenv("EXPORT_IMAGES", "false")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"), zap.NewNop().Sugar())

	assert.Equal(t, "demo", cfg.Oven.Type)
	assert.Equal(t, "/dev/ttyACM0", cfg.Oven.PortPath)
	assert.Equal(t, 57600, cfg.Oven.BaudRate)
	assert.Equal(t, 2, cfg.Automation.Profiles)
	assert.Equal(t, 9*time.Second, cfg.Automation.IdleThreshold())
	assert.False(t, cfg.Export.Images)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvFileDoesNotOverrideRealEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# local bench
REFLOW_PROFILES=4
LISTEN_ADDR=":7000"
`), 0644))
	t.Setenv("REFLOW_PROFILES", "1")
	t.Setenv("LISTEN_ADDR", "")

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"), zap.NewNop().Sugar())

	assert.Equal(t, 1, cfg.Automation.Profiles)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
}

func TestUpdateFromJSONMergesPartially(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"automation":{"profiles":2},"oven":{"portPath":"/dev/ttyUSB1"}}`)))

	assert.Equal(t, 2, cfg.Automation.Profiles)
	assert.Equal(t, 5, cfg.Automation.IdleThresholdS)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Oven.PortPath)
	assert.Equal(t, 115200, cfg.Oven.BaudRate)
}

func TestUpdateFromJSONRejectsGarbage(t *testing.T) {
	assert.Error(t, DefaultConfig().UpdateFromJSON([]byte("{")))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := LoadConfig(path, zap.NewNop().Sugar())
	cfg.Automation.Profiles = 4

	require.NoError(t, cfg.Save())

	again := LoadConfig(path, zap.NewNop().Sugar())
	assert.Equal(t, 4, again.Automation.Profiles)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	deepMerge(dst, map[string]interface{}{
		"a": map[string]interface{}{"y": 3.0},
		"c": true,
	})

	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 3.0},
		"b": "keep",
		"c": true,
	}, dst)
}
