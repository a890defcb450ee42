package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserForPath(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"origin.timeoutseconds":      "origin.timeoutSeconds",
			"cache.ttlseconds":           "cache.ttlSeconds",
			"cache.valkey.tls.cafile":    "cache.valkey.tls.caFile",
			"shell.offlinepath":          "shell.offlinePath",
			"shell.offlinetemplate":      "shell.offlineTemplate",
			"shell.releasefile":          "shell.releaseFile",
			"shell.sitename":             "shell.siteName",
			"update.pollseconds":         "update.pollSeconds",
			"update.versionpath":         "update.versionPath",
			"notifications.defaulttitle": "notifications.defaultTitle",
			"notifications.defaultbody":  "notifications.defaultBody",
			"notifications.defaulturl":   "notifications.defaultURL",
			"popularity.minbase":         "popularity.minBase",
			"popularity.maxbase":         "popularity.maxBase",
			"popularity.growthmin":       "popularity.growthMin",
			"popularity.growthmax":       "popularity.growthMax",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SHELL__VERSION -> shell.version).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into listenport when callers
			// choose not to use double underscores for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserForPath selects a koanf parser from the file extension, defaulting to YAML.
func parserForPath(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"origin": map[string]any{
			"url":            cfg.Origin.URL,
			"timeoutSeconds": cfg.Origin.TimeoutSeconds,
		},
		"cache": map[string]any{
			"backend":    cfg.Cache.Backend,
			"prefix":     cfg.Cache.Prefix,
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"valkey": map[string]any{
				"address":  cfg.Cache.Valkey.Address,
				"username": cfg.Cache.Valkey.Username,
				"password": cfg.Cache.Valkey.Password,
				"db":       cfg.Cache.Valkey.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Valkey.TLS.Enabled,
					"caFile":  cfg.Cache.Valkey.TLS.CAFile,
				},
			},
		},
		"shell": map[string]any{
			"version":         cfg.Shell.Version,
			"precache":        cfg.Shell.Precache,
			"offlinePath":     cfg.Shell.OfflinePath,
			"offlineTemplate": cfg.Shell.OfflineTemplate,
			"releaseFile":     cfg.Shell.ReleaseFile,
			"siteName":        cfg.Shell.SiteName,
		},
		"update": map[string]any{
			"pollSeconds": cfg.Update.PollSeconds,
			"versionPath": cfg.Update.VersionPath,
		},
		"fetch": map[string]any{
			"bypass": cfg.Fetch.Bypass,
		},
		"notifications": map[string]any{
			"defaultTitle": cfg.Notifications.DefaultTitle,
			"defaultBody":  cfg.Notifications.DefaultBody,
			"defaultURL":   cfg.Notifications.DefaultURL,
			"icon":         cfg.Notifications.Icon,
			"badge":        cfg.Notifications.Badge,
			"tag":          cfg.Notifications.Tag,
		},
		"popularity": map[string]any{
			"minBase":   cfg.Popularity.MinBase,
			"maxBase":   cfg.Popularity.MaxBase,
			"growthMin": cfg.Popularity.GrowthMin,
			"growthMax": cfg.Popularity.GrowthMax,
			"epoch":     cfg.Popularity.Epoch,
		},
	}
}
