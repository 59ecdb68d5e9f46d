package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "TOOLBRIDGE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "TOOLBRIDGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TOOLBRIDGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.export_dir", typ: kString, env: "TOOLBRIDGE_STORAGE_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.ExportDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ExportDir },
	},
	{
		key: "bridge.origin", typ: kString, env: "TOOLBRIDGE_BRIDGE_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Bridge.Origin = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.Origin },
	},
	{
		key: "bridge.allowed_origins", typ: kString, env: "TOOLBRIDGE_BRIDGE_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Bridge.AllowedOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.AllowedOrigins },
	},
	{
		key: "generator.base_url", typ: kString, env: "TOOLBRIDGE_GENERATOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.BaseURL },
	},
	{
		key: "generator.api_key", typ: kString, env: "TOOLBRIDGE_GENERATOR_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generator.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.APIKey },
	},
	{
		key: "publish.base_url", typ: kString, env: "TOOLBRIDGE_PUBLISH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Publish.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.BaseURL },
	},
	{
		key: "studio.base_url", typ: kString, env: "TOOLBRIDGE_STUDIO_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Studio.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Studio.BaseURL },
	},
	{
		key: "log.level", typ: kString, env: "TOOLBRIDGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
