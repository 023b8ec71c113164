package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// ParseCommandFlags parses the process flags and reports which were set
// explicitly so callers can apply precedence (flags > env > file).
func ParseCommandFlags() (addr, db, cfgPath string, setFlags map[string]bool) {
	addrFlag := flag.String("addr", ":8080", "listen address")
	dbFlag := flag.String("db", "./data", "pebble database path")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, setFlags
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// the PARLEY_CONFIG env var, then ./parley.yaml when present.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := strings.TrimSpace(os.Getenv("PARLEY_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("parley.yaml"); err == nil {
		return "parley.yaml"
	}
	return flagVal
}

// Load reads the YAML config at path. A missing path yields a zero Config
// rather than an error so the server can start from flags/env alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		applyEnv(&cfg)
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv overlays PARLEY_* environment variables onto the config. Env
// wins over file values; flags are applied by the caller and win over both.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PARLEY_ADDRESS")); v != "" {
		cfg.Server.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_BLOB_DIR")); v != "" {
		cfg.Blob.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_BACKEND_KEYS")); v != "" {
		cfg.Security.APIKeys.Backend = splitKeys(v)
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_FRONTEND_KEYS")); v != "" {
		cfg.Security.APIKeys.Frontend = splitKeys(v)
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_ADMIN_KEYS")); v != "" {
		cfg.Security.APIKeys.Admin = splitKeys(v)
	}
}

func splitKeys(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
