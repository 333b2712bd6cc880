package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Cache  string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult records the merged config plus which sources fed it,
// so startup can report where each value came from.
type EffectiveConfigResult struct {
	Config  *Config
	Addr    string
	Cache   string
	Sources string // comma-joined: "config", "env", "flags"
}

func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8090
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", "127.0.0.1:8090", "local HTTP listen address")
	cachePtr := flag.String("cache", "", "snapshot cache directory (empty disables)")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Cache: *cachePtr, Config: *cfgPtr, Set: setFlags}
}

// applyEnv overlays INBOXSYNC_* environment variables onto cfg and reports
// whether any were present.
func applyEnv(cfg *Config) bool {
	used := false
	setStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			used = true
		}
	}
	setStr("INBOXSYNC_PLATFORM_URL", &cfg.Platform.BaseURL)
	setStr("INBOXSYNC_PLATFORM_TOKEN", &cfg.Platform.Token)
	setStr("INBOXSYNC_CACHE_PATH", &cfg.Cache.Path)
	setStr("INBOXSYNC_REFRESH_CRON", &cfg.Refresh.Cron)
	setStr("INBOXSYNC_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("INBOXSYNC_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("INBOXSYNC_WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Send.WindowHours = n
			used = true
		}
	}
	return used
}

// LoadEffective merges file, env and flags (flags win over env, env over
// file) and returns the effective config. A missing config file is not an
// error unless --config was passed explicitly.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	var sources []string

	cfg := &Config{}
	loaded, err := Load(flags.Config)
	switch {
	case err == nil:
		cfg = loaded
		sources = append(sources, "config")
	case os.IsNotExist(err):
		if flags.Set["config"] {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
	default:
		return res, err
	}

	if applyEnv(cfg) {
		sources = append(sources, "env")
	}

	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
		sources = append(sources, "flags")
	}
	if flags.Set["cache"] {
		cfg.Cache.Path = flags.Cache
		if !flags.Set["addr"] {
			sources = append(sources, "flags")
		}
	}

	res.Config = cfg
	res.Addr = cfg.Addr()
	res.Cache = cfg.Cache.Path
	res.Sources = strings.Join(sources, ",")
	return res, nil
}
