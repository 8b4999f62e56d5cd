package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Stream   StreamConfig   `koanf:"stream"`
	Cache    CacheConfig    `koanf:"cache"`
	Timeline TimelineConfig `koanf:"timeline"`
	Output   OutputConfig   `koanf:"output"`
	Prefs    PrefsConfig    `koanf:"prefs"`
	Log      LogConfig      `koanf:"log"`
}

type EngineConfig struct {
	BaseURL        string `koanf:"base_url"`
	RequestTimeout string `koanf:"request_timeout"`
}

type StreamConfig struct {
	BackoffBase    string `koanf:"backoff_base"`
	BackoffCap     string `koanf:"backoff_cap"`
	HeartbeatGrace string `koanf:"heartbeat_grace"`
}

type CacheConfig struct {
	Capacity int `koanf:"capacity"`
}

type TimelineConfig struct {
	VirtualizeThreshold int `koanf:"virtualize_threshold"`
}

type OutputConfig struct {
	RingCapacity int `koanf:"ring_capacity"`
}

type PrefsConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

const (
	DefaultEngineBaseURL       = "http://localhost:8765"
	DefaultEngineTimeout       = "30s"
	DefaultStreamBackoffBase   = "1s"
	DefaultStreamBackoffCap    = "30s"
	DefaultHeartbeatGrace      = "45s"
	DefaultCacheCapacity       = 500
	DefaultVirtualizeThreshold = 300
	DefaultOutputRingCapacity  = 1000
	DefaultLogLevel            = "info"
)

// Load layers hardcoded defaults, an optional YAML file, LOOPWATCH_ env vars,
// and cobra flags, in that order of increasing precedence.
func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"engine.base_url":               DefaultEngineBaseURL,
		"engine.request_timeout":        DefaultEngineTimeout,
		"stream.backoff_base":           DefaultStreamBackoffBase,
		"stream.backoff_cap":            DefaultStreamBackoffCap,
		"stream.heartbeat_grace":        DefaultHeartbeatGrace,
		"cache.capacity":                DefaultCacheCapacity,
		"timeline.virtualize_threshold": DefaultVirtualizeThreshold,
		"output.ring_capacity":          DefaultOutputRingCapacity,
		"prefs.path":                    defaultPrefsPath(),
		"log.level":                     DefaultLogLevel,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".loopwatch", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("LOOPWATCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LOOPWATCH_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Engine.BaseURL = strings.TrimRight(cfg.Engine.BaseURL, "/")

	return &cfg, nil
}

// Defaults returns the default configuration, used by `loopwatch config init`.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"engine": map[string]interface{}{
			"base_url":        DefaultEngineBaseURL,
			"request_timeout": DefaultEngineTimeout,
		},
		"stream": map[string]interface{}{
			"backoff_base":    DefaultStreamBackoffBase,
			"backoff_cap":     DefaultStreamBackoffCap,
			"heartbeat_grace": DefaultHeartbeatGrace,
		},
		"cache":    map[string]interface{}{"capacity": DefaultCacheCapacity},
		"timeline": map[string]interface{}{"virtualize_threshold": DefaultVirtualizeThreshold},
		"output":   map[string]interface{}{"ring_capacity": DefaultOutputRingCapacity},
		"prefs":    map[string]interface{}{"path": defaultPrefsPath()},
		"log":      map[string]interface{}{"level": DefaultLogLevel},
	}
}

func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".loopwatch", "prefs.json")
	}
	return filepath.Join(home, ".loopwatch", "prefs.json")
}
