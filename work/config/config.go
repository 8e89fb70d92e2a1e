package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"kptv-proxy/work/logger"
)

// Config is the fully loaded, defaulted, and merged runtime configuration:
// config.yml's global settings plus source.yml's inputs, mapping.yml (or
// mapping.d/*.yml)'s filter/rename/mapper/target definitions, and
// api-proxy.yml's users. Generalized from the teacher's single-file JSON
// Config/ConfigFile split (work/config/config.go) into the spec's
// multi-file YAML layout (spec §6 "Persisted state layout").
type Config struct {
	Global    GlobalConfig
	Sources   []Input
	Mapping   MappingFile
	APIProxy  APIProxyFile
	Generation int64 // bumped on every successful reload (spec §9 "hot-reload swaps by generation counter")
}

// GlobalConfig is config.yml's shape.
type GlobalConfig struct {
	BaseURL                string        `yaml:"base_url"`
	RewriteSecret          string        `yaml:"rewrite_secret"`
	BufferSizePerStreamMB  int64         `yaml:"buffer_size_per_stream_mb"`
	SharedBurstBufferMB    int64         `yaml:"shared_burst_buffer_mb"`
	CacheEnabled           bool          `yaml:"cache_enabled"`
	CacheDuration          time.Duration `yaml:"cache_duration"`
	ImportRefreshInterval  time.Duration `yaml:"import_refresh_interval"`
	ImportRefreshCron      string        `yaml:"import_refresh_cron"` // optional robfig/cron expression; overrides ImportRefreshInterval when set
	WorkerThreads          int           `yaml:"worker_threads"`
	Debug                  bool          `yaml:"debug"`
	ObfuscateUrls          bool          `yaml:"obfuscate_urls"`
	SortField              string        `yaml:"sort_field"`
	SortDirection          string        `yaml:"sort_direction"`
	StreamTimeout          time.Duration `yaml:"stream_timeout"`
	MaxConnectionsToApp    int           `yaml:"max_connections_to_app"`
	WatcherEnabled         bool          `yaml:"watcher_enabled"`
	UserAccessControl      bool          `yaml:"user_access_control"` // default off, see DESIGN.md Open Question decision 3
	GracePeriodMillis      int64         `yaml:"grace_period_millis"`
	GracePeriodTimeoutSecs int64         `yaml:"grace_period_timeout_secs"`
	KickSecs               int64         `yaml:"kick_secs"`
	RateLimit              RateLimitConfig `yaml:"rate_limit"`
	HDHomeRun              HDHomeRunConfig `yaml:"hdhomerun"`
	WorkDir                string        `yaml:"work_dir"`
	CacheDir               string        `yaml:"cache_dir"`
	RegistryPath           string        `yaml:"registry_path"`
	MappingDir             string        `yaml:"mapping_dir"` // when set, mapping.d/*.yml replaces a single mapping.yml
}

// RateLimitConfig is spec §5's per-client-IP token bucket.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	BurstSize    int  `yaml:"burst_size"`
	PeriodMillis int  `yaml:"period_millis"`
}

// HDHomeRunConfig is spec §4.11's per-device emulation toggle set.
type HDHomeRunConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	TunerCount   int    `yaml:"tuner_count"`
	FriendlyName string `yaml:"friendly_name"`
	DeviceID     string `yaml:"device_id"` // empty = generated, invalid = corrected (spec §4.11)
	Auth         bool   `yaml:"auth"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads (or returns the cached) configuration from dir,
// following the teacher's double-checked-locking singleton shape
// (work/config/config.go LoadConfig) generalized to the spec's four-file
// layout.
func LoadConfig(dir string, log *logger.Logger) (*Config, error) {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache, nil
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()
	if configCache != nil {
		return configCache, nil
	}

	cfg, err := loadFromDir(dir, log)
	if err != nil {
		return nil, err
	}
	configCache = cfg
	return cfg, nil
}

// ClearConfigCache forces the next LoadConfig call to reload from disk.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromDir reads config.yml, source.yml, mapping.yml (or mapping.d/),
// and api-proxy.yml from dir, validates/defaults each, and merges them
// into one Config. Config loading fails loudly on malformed YAML or an
// absent rewrite_secret — per spec §4.1, a missing secret must not
// auto-generate, since that would invalidate every previously-issued
// rewrite URL on restart.
func loadFromDir(dir string, log *logger.Logger) (*Config, error) {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "config")
	}

	global, err := loadGlobal(filepath.Join(dir, "config.yml"))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(global.RewriteSecret) == "" {
		return nil, fmt.Errorf("config.yml: rewrite_secret is required and will not be auto-generated (restart-stable proxy URLs depend on it)")
	}

	sources, err := loadSources(filepath.Join(dir, "source.yml"))
	if err != nil {
		return nil, err
	}

	var mapping MappingFile
	if global.MappingDir != "" {
		mapping, err = loadMappingDir(filepath.Join(dir, global.MappingDir))
	} else {
		mapping, err = loadMapping(filepath.Join(dir, "mapping.yml"))
	}
	if err != nil {
		return nil, err
	}

	apiProxy, err := loadAPIProxy(filepath.Join(dir, "api-proxy.yml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{Global: global, Sources: sources, Mapping: mapping, APIProxy: apiProxy}

	if global.Debug {
		log.Info("{config - loadFromDir} loaded %d source(s), %d target(s), %d user(s)", len(sources), len(mapping.Targets), len(apiProxy.Users))
		for _, src := range sources {
			log.Info("{config - loadFromDir} source %q: %s (max_connections=%d, order=%d)", src.Name, obfuscateURL(src.URL, global.ObfuscateUrls), src.MaxConnections, src.Order)
		}
	}
	return cfg, nil
}

func loadGlobal(path string) (GlobalConfig, error) {
	g := defaultGlobal()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return g, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parse %s: %w", path, err)
	}
	validateGlobal(&g)
	return g, nil
}

func defaultGlobal() GlobalConfig {
	return GlobalConfig{
		BaseURL:                "http://localhost:8080",
		BufferSizePerStreamMB:  1,
		SharedBurstBufferMB:    12,
		CacheEnabled:           true,
		CacheDuration:          30 * time.Minute,
		ImportRefreshInterval:  12 * time.Hour,
		WorkerThreads:          8,
		SortField:              "tvg-name",
		SortDirection:          "asc",
		StreamTimeout:          10 * time.Second,
		MaxConnectionsToApp:    100,
		WatcherEnabled:         true,
		GracePeriodMillis:      300,
		GracePeriodTimeoutSecs: 2,
		KickSecs:               90,
		WorkDir:                "/settings",
		CacheDir:               "/settings/cache",
		RegistryPath:           "/settings/registry.db",
	}
}

func validateGlobal(g *GlobalConfig) {
	def := defaultGlobal()
	if g.BaseURL == "" {
		g.BaseURL = def.BaseURL
	}
	if g.BufferSizePerStreamMB <= 0 {
		g.BufferSizePerStreamMB = def.BufferSizePerStreamMB
	}
	if g.SharedBurstBufferMB <= 0 {
		g.SharedBurstBufferMB = def.SharedBurstBufferMB
	}
	if g.CacheDuration <= 0 {
		g.CacheDuration = def.CacheDuration
	}
	if g.ImportRefreshInterval <= 0 {
		g.ImportRefreshInterval = def.ImportRefreshInterval
	}
	if g.WorkerThreads <= 0 {
		g.WorkerThreads = def.WorkerThreads
	}
	if g.SortField == "" {
		g.SortField = def.SortField
	}
	if g.SortDirection == "" {
		g.SortDirection = def.SortDirection
	}
	if g.StreamTimeout <= 0 {
		g.StreamTimeout = def.StreamTimeout
	}
	if g.MaxConnectionsToApp <= 0 {
		g.MaxConnectionsToApp = def.MaxConnectionsToApp
	}
	if g.GracePeriodMillis <= 0 {
		g.GracePeriodMillis = def.GracePeriodMillis
	}
	if g.GracePeriodTimeoutSecs <= 0 {
		g.GracePeriodTimeoutSecs = def.GracePeriodTimeoutSecs
	}
	if g.KickSecs <= 0 {
		g.KickSecs = def.KickSecs
	}
	if g.WorkDir == "" {
		g.WorkDir = def.WorkDir
	}
	if g.CacheDir == "" {
		g.CacheDir = def.CacheDir
	}
	if g.RegistryPath == "" {
		g.RegistryPath = def.RegistryPath
	}
	if g.HDHomeRun.TunerCount <= 0 {
		g.HDHomeRun.TunerCount = 2
	}
	if g.HDHomeRun.Port <= 0 {
		g.HDHomeRun.Port = 5004
	}
	if g.HDHomeRun.FriendlyName == "" {
		g.HDHomeRun.FriendlyName = "IPTV Proxy"
	}
}

// GracePeriod and GraceCooldown convert the YAML millis/secs fields to
// time.Duration for work/session.NewGraceController.
func (g GlobalConfig) GracePeriod() time.Duration {
	return time.Duration(g.GracePeriodMillis) * time.Millisecond
}

func (g GlobalConfig) GraceCooldown() time.Duration {
	return time.Duration(g.GracePeriodTimeoutSecs) * time.Second
}

func (g GlobalConfig) KickDuration() time.Duration {
	return time.Duration(g.KickSecs) * time.Second
}

// SharedBurstBufferBytes converts the YAML MB field to bytes for
// work/hub.Config.BurstBufferBytes.
func (g GlobalConfig) SharedBurstBufferBytes() int {
	return int(g.SharedBurstBufferMB * 1024 * 1024)
}

// GetSourceByURL mirrors the teacher's Config.GetSourceByURL, generalized
// to the new Input type.
func (c *Config) GetSourceByURL(rawURL string) *Input {
	for i := range c.Sources {
		if c.Sources[i].URL == rawURL {
			return &c.Sources[i]
		}
	}
	return nil
}

// GetSourcesByOrder mirrors the teacher's Config.GetSourcesByOrder.
func (c *Config) GetSourcesByOrder() []Input {
	out := make([]Input, len(c.Sources))
	copy(out, c.Sources)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// obfuscateURL masks sensitive parts of a URL for logging, matching the
// teacher's work/config/config.go obfuscateURL, gated on ObfuscateUrls.
func obfuscateURL(rawURL string, enabled bool) string {
	if !enabled || rawURL == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}
