package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Bridge    BridgeConfig
	Generator GeneratorConfig
	Publish   PublishConfig
	Studio    StudioConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir   string
	ExportDir string
}

// BridgeConfig controls the auth bridge endpoint. Origin is the host
// application's own origin (what consumers must expect messages from);
// AllowedOrigins is a comma-separated list of consumer origins permitted
// to open a bridge connection. Sandboxed previews report the opaque
// origin "null", which is allowed by default.
type BridgeConfig struct {
	Origin         string
	AllowedOrigins string
}

type GeneratorConfig struct {
	BaseURL string
	APIKey  string
}

// PublishConfig holds the public base URL published tools are served under.
type PublishConfig struct {
	BaseURL string
}

// StudioConfig points remix links back at the authoring environment.
type StudioConfig struct {
	BaseURL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			ExportDir: "", // resolved to <data_dir>/published when empty
		},
		Bridge: BridgeConfig{
			Origin:         "http://127.0.0.1:7420",
			AllowedOrigins: "null",
		},
		Generator: GeneratorConfig{
			BaseURL: "",
		},
		Publish: PublishConfig{
			BaseURL: "http://127.0.0.1:7420/p",
		},
		Studio: StudioConfig{
			BaseURL: "http://127.0.0.1:7420/studio",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.toolbridge.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/toolbridge/config.json
// and secrets live in a mode-0600 secrets file under the data dir.
//
// Environment variables (TOOLBRIDGE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts platform secret storage.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform keychain for the generator API key if still empty.
	// The generator is optional; a missing key only disables `forge`.
	if cfg.Generator.APIKey == "" {
		if key, err := kc.Get("toolbridge", "generator_api_key"); err == nil && key != "" {
			cfg.Generator.APIKey = key
		}
	}

	// The host's own origin is always an allowed bridge consumer.
	if !originAllowed(cfg.Bridge.AllowedOrigins, cfg.Bridge.Origin) {
		cfg.Bridge.AllowedOrigins = joinOrigins(cfg.Bridge.AllowedOrigins, cfg.Bridge.Origin)
	}

	return cfg, nil
}

// AllowedOriginList splits the configured comma-separated origin list.
func (c BridgeConfig) AllowedOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func originAllowed(list, origin string) bool {
	for _, o := range strings.Split(list, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func joinOrigins(list, origin string) string {
	if strings.TrimSpace(list) == "" {
		return origin
	}
	return list + "," + origin
}

// GetAPIToken returns the bearer token protecting management endpoints,
// minting and persisting one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get("toolbridge", "api_token"); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.New().String()
	if err := kc.Set("toolbridge", "api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// keychainReader adapts the platform secret store to the Keychain interface.
type keychainReader struct{}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return keychainReader{}
}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
