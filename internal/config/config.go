package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"arc/internal/errs"
)

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, empty means <logDir>/arc.log
 * @property {int} maxSize - rotate after this many megabytes
 */
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAge     int    `mapstructure:"maxAge"`
}

/**
 * File watch configuration
 * @property {bool} enabled - watch site paths and restart on change
 * @property {bool} watchConfig - reload everything when the config file changes
 * @property {bool} followSymlinks - resolve symlinked targets before watching
 */
type WatchConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	WatchConfig    bool `mapstructure:"watchConfig"`
	FollowSymlinks bool `mapstructure:"followSymlinks"`
	DebounceMs     int  `mapstructure:"debounceMs"`
	CooldownMs     int  `mapstructure:"cooldownMs"`
}

func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func (w WatchConfig) Cooldown() time.Duration {
	return time.Duration(w.CooldownMs) * time.Millisecond
}

/**
 * Tunnel helper configuration
 * @property {bool} enabled - start the helper with the sites
 * @property {string} executablePath - helper binary, default "cloudflared"
 * @property {string} identifier - tunnel name or id
 * @property {int} port - local metrics port of the helper, optional
 * @property {string} credentialsPath - default ~/.cloudflared/<identifier>.json
 * @property {[]string} args - helper arguments, templated
 */
type TunnelConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ExecutablePath  string   `mapstructure:"executablePath"`
	Identifier      string   `mapstructure:"identifier"`
	Port            int      `mapstructure:"port"`
	CredentialsPath string   `mapstructure:"credentialsPath"`
	Args            []string `mapstructure:"args"`
}

type HealthConfig struct {
	IntervalSec        int `mapstructure:"intervalSec"`
	TimeoutSec         int `mapstructure:"timeoutSec"`
	DegradedThreshold  int `mapstructure:"degradedThreshold"`
	UnhealthyThreshold int `mapstructure:"unhealthyThreshold"`
	HistorySize        int `mapstructure:"historySize"`
}

func (h HealthConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

func (h HealthConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

// AdminConfig enables the management API when Address is set
type AdminConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

// Config is the whole orchestrator configuration. A reload replaces the
// object, it is never mutated in place once handed to the coordinator.
type Config struct {
	Name       string
	ConfigPath string
	BaseDir    string
	ProxyPort  int
	LogDir     string
	Sites      []Site
	Watch      WatchConfig
	Tunnel     *TunnelConfig
	Health     HealthConfig
	Admin      AdminConfig
	Log        LogConfig
}

type fileConfig struct {
	Name      string        `mapstructure:"name"`
	BaseDir   string        `mapstructure:"baseDir"`
	ProxyPort int           `mapstructure:"proxyPort"`
	LogDir    string        `mapstructure:"logDir"`
	Sites     []SiteEntry   `mapstructure:"sites"`
	Watch     WatchConfig   `mapstructure:"watch"`
	Tunnel    *TunnelConfig `mapstructure:"tunnel"`
	Health    HealthConfig  `mapstructure:"health"`
	Admin     AdminConfig   `mapstructure:"admin"`
	Log       LogConfig     `mapstructure:"log"`
}

// Site returns the site with the given name, or nil
func (c *Config) Site(name string) Site {
	for _, s := range c.Sites {
		if s.SiteName() == name {
			return s
		}
	}
	return nil
}

func (c *Config) ServiceSites() []*ServiceSite {
	var out []*ServiceSite
	for _, s := range c.Sites {
		if svc, ok := s.(*ServiceSite); ok {
			out = append(out, svc)
		}
	}
	return out
}

func (c *Config) TunnelEnabled() bool {
	return c.Tunnel != nil && c.Tunnel.Enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "default")
	v.SetDefault("proxyPort", 8080)
	v.SetDefault("logDir", "")
	v.SetDefault("baseDir", "")
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.watchConfig", true)
	v.SetDefault("watch.followSymlinks", false)
	v.SetDefault("watch.debounceMs", 300)
	v.SetDefault("watch.cooldownMs", 2000)
	v.SetDefault("health.intervalSec", 30)
	v.SetDefault("health.timeoutSec", 5)
	v.SetDefault("health.degradedThreshold", 2)
	v.SetDefault("health.unhealthyThreshold", 5)
	v.SetDefault("health.historySize", 100)
	v.SetDefault("admin.address", "")
	v.SetDefault("admin.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxSize", 10)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAge", 28)
}

/**
 * Load configuration from a YAML, JSON or TOML file
 * @param {string} path - configuration file path
 * @returns {*Config} validated configuration
 * @returns {error} *errs.ConfigurationError on any problem
 * @description
 * - Reads the file with viper, ARC_* environment variables override keys
 * - Resolves relative paths against baseDir (default: the file's directory)
 * - Validates the result, nothing is started when this fails
 */
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Err: err}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(abs)
	v.SetEnvPrefix("ARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.ConfigurationError{Err: fmt.Errorf("read %s: %w", abs, err)}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, &errs.ConfigurationError{Err: fmt.Errorf("decode %s: %w", abs, err)}
	}
	// viper 会把 map 的键转成小写，环境变量名需要保留原样
	if err := restoreEnvCase(abs, fc.Sites); err != nil {
		return nil, &errs.ConfigurationError{Err: err}
	}

	cfg, err := build(&fc, abs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(fc *fileConfig, configPath string) (*Config, error) {
	sites, err := ParseSites(fc.Sites)
	if err != nil {
		return nil, &errs.ConfigurationError{Err: err}
	}
	cfg := &Config{
		Name:       fc.Name,
		ConfigPath: configPath,
		BaseDir:    fc.BaseDir,
		ProxyPort:  fc.ProxyPort,
		LogDir:     fc.LogDir,
		Sites:      sites,
		Watch:      fc.Watch,
		Tunnel:     fc.Tunnel,
		Health:     fc.Health,
		Admin:      fc.Admin,
		Log:        fc.Log,
	}
	collectConfig(cfg)
	return cfg, nil
}

// collectConfig fills defaults that depend on other fields and makes every
// path absolute.
func collectConfig(cfg *Config) *Config {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	anchor, _ := os.Getwd()
	if cfg.ConfigPath != "" {
		anchor = filepath.Dir(cfg.ConfigPath)
	}
	switch {
	case cfg.BaseDir == "":
		cfg.BaseDir = anchor
	case !filepath.IsAbs(cfg.BaseDir) && !strings.HasPrefix(cfg.BaseDir, "~/"):
		cfg.BaseDir = filepath.Join(anchor, cfg.BaseDir)
	}
	cfg.BaseDir = cfg.resolve(cfg.BaseDir)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.BaseDir, ".logs")
	}
	cfg.LogDir = cfg.resolve(cfg.LogDir)
	if cfg.Log.Path != "" && cfg.Log.Path != "console" {
		cfg.Log.Path = cfg.resolve(cfg.Log.Path)
	}

	for _, s := range cfg.Sites {
		switch site := s.(type) {
		case *StaticSite:
			site.Domain = strings.ToLower(site.Domain)
			site.OutputPath = cfg.resolve(site.OutputPath)
			site.Watch = cfg.resolveAll(site.Watch)
			if site.AuthFile != "" {
				site.AuthFile = cfg.resolve(site.AuthFile)
			}
		case *ServiceSite:
			site.Domain = strings.ToLower(site.Domain)
			if site.Process.WorkingDir == "" {
				site.Process.WorkingDir = cfg.BaseDir
			}
			site.Process.WorkingDir = cfg.resolve(site.Process.WorkingDir)
			site.Watch = cfg.resolveAll(site.Watch)
			if site.AuthFile != "" {
				site.AuthFile = cfg.resolve(site.AuthFile)
			}
		}
	}

	if t := cfg.Tunnel; t != nil {
		if t.ExecutablePath == "" {
			t.ExecutablePath = "cloudflared"
		}
		if t.CredentialsPath == "" && t.Identifier != "" {
			home, _ := os.UserHomeDir()
			t.CredentialsPath = filepath.Join(home, ".cloudflared", t.Identifier+".json")
		}
		if t.CredentialsPath != "" {
			t.CredentialsPath = cfg.resolve(t.CredentialsPath)
		}
	}
	return cfg
}

func (c *Config) resolve(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.BaseDir, p)
	}
	return filepath.Clean(p)
}

func (c *Config) resolveAll(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.resolve(p))
	}
	return out
}

// rawEnvDocument is the slice of a config file needed to recover env names
type rawEnvDocument struct {
	Sites []struct {
		Process struct {
			Env map[string]any `yaml:"env" toml:"env"`
		} `yaml:"process" toml:"process"`
	} `yaml:"sites" toml:"sites"`
}

// restoreEnvCase re-reads sites[*].process.env from the raw document so
// that variable names keep their original case. Values stay as viper
// decoded them.
func restoreEnvCase(path string, entries []SiteEntry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw rawEnvDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".yaml", ".yml", ".json":
		// JSON is valid YAML
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env names from %s: %w", path, err)
	}
	for i := range entries {
		if i >= len(raw.Sites) {
			break
		}
		env := raw.Sites[i].Process.Env
		if len(env) == 0 {
			continue
		}
		decoded := entries[i].Process.Env
		restored := make(map[string]string, len(env))
		for k, v := range env {
			if val, ok := decoded[strings.ToLower(k)]; ok {
				restored[k] = val
			} else {
				restored[k] = fmt.Sprint(v)
			}
		}
		entries[i].Process.Env = restored
	}
	return nil
}

// New builds a configuration in code, used by tests and embedders. The
// result is defaulted and validated like a loaded one; the sites and tunnel
// passed in are copied, never modified.
func New(cfg Config) (*Config, error) {
	c := cfg
	c.Sites = cloneSites(cfg.Sites)
	if cfg.Tunnel != nil {
		t := *cfg.Tunnel
		c.Tunnel = &t
	}
	if c.ProxyPort == 0 {
		c.ProxyPort = 8080
	}
	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = 300
	}
	if c.Watch.CooldownMs == 0 {
		c.Watch.CooldownMs = 2000
	}
	if c.Health.IntervalSec == 0 {
		c.Health.IntervalSec = 30
	}
	if c.Health.TimeoutSec == 0 {
		c.Health.TimeoutSec = 5
	}
	if c.Health.DegradedThreshold == 0 {
		c.Health.DegradedThreshold = 2
	}
	if c.Health.UnhealthyThreshold == 0 {
		c.Health.UnhealthyThreshold = 5
	}
	if c.Health.HistorySize == 0 {
		c.Health.HistorySize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for _, s := range c.Sites {
		if svc, ok := s.(*ServiceSite); ok && svc.HealthPath == "" {
			svc.HealthPath = DefaultHealthPath
		}
	}
	collectConfig(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func cloneSites(sites []Site) []Site {
	if sites == nil {
		return nil
	}
	out := make([]Site, 0, len(sites))
	for _, s := range sites {
		switch site := s.(type) {
		case *StaticSite:
			cp := *site
			out = append(out, &cp)
		case *ServiceSite:
			cp := *site
			out = append(out, &cp)
		default:
			out = append(out, s)
		}
	}
	return out
}
