package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/reflow-dash/internal/history"
	"github.com/shaunagostinho/reflow-dash/internal/logger"
	"github.com/shaunagostinho/reflow-dash/internal/oven"
)

// Config holds all reflowdash configuration.
type Config struct {
	mu sync.RWMutex

	// Oven link
	Oven OvenConfig `yaml:"oven" json:"oven"`

	// Regression runs
	Automation AutomationConfig `yaml:"automation" json:"automation"`

	// Session artifacts
	Export  logger.Config  `yaml:"export" json:"export"`
	History history.Config `yaml:"history" json:"history"`

	// Live dashboard
	Server ServerConfig `yaml:"server" json:"server"`

	Log LogConfig `yaml:"log" json:"log"`

	path string // file path for save/load
}

type OvenConfig struct {
	Type            string   `yaml:"type" json:"type"`           // "t962" or "demo"
	PortPath        string   `yaml:"port_path" json:"portPath"`  // empty to probe candidates
	Candidates      []string `yaml:"candidates" json:"candidates"`
	BaudRate        int      `yaml:"baud_rate" json:"baudRate"`
	ConnectAttempts int      `yaml:"connect_attempts" json:"connectAttempts"`
	DemoTickMs      int      `yaml:"demo_tick_ms" json:"demoTickMs"` // wall time per simulated line
}

type AutomationConfig struct {
	Profiles       int `yaml:"profiles" json:"profiles"`
	IdleThresholdS int `yaml:"idle_threshold_s" json:"idleThresholdS"`
}

// IdleThreshold returns the configured threshold as a duration.
func (a AutomationConfig) IdleThreshold() time.Duration {
	return time.Duration(a.IdleThresholdS) * time.Second
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Oven: OvenConfig{
			Type:            "t962",
			Candidates:      append([]string(nil), oven.DefaultCandidates...),
			BaudRate:        115200,
			ConnectAttempts: 3,
			DemoTickMs:      200,
		},
		Automation: AutomationConfig{
			Profiles:       6,
			IdleThresholdS: 5,
		},
		Export: logger.Config{
			Enabled: true,
			Path:    "./reflow-logs",
			Images:  true,
		},
		History: history.Config{
			Enabled: true,
			Path:    "./reflow-logs/history.db",
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log *zap.SugaredLogger) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warnf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Infof("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep, log)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string, log *zap.SugaredLogger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Infof("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: REFLOW_OVEN, REFLOW_PORT, REFLOW_BAUD, REFLOW_PROFILES,
// REFLOW_IDLE_S, EXPORT_PATH, EXPORT_IMAGES, HISTORY_PATH, LISTEN_ADDR,
// LOG_LEVEL
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REFLOW_OVEN"); v != "" {
		c.Oven.Type = v
	}
	if v := os.Getenv("REFLOW_PORT"); v != "" {
		c.Oven.PortPath = v
	}
	if v := os.Getenv("REFLOW_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Oven.BaudRate = n
		}
	}
	if v := os.Getenv("REFLOW_PROFILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Automation.Profiles = n
		}
	}
	if v := os.Getenv("REFLOW_IDLE_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Automation.IdleThresholdS = n
		}
	}
	if v := os.Getenv("EXPORT_PATH"); v != "" {
		c.Export.Path = v
	}
	if v := os.Getenv("EXPORT_IMAGES"); v != "" {
		c.Export.Images = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/reflowdash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
