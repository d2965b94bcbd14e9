// Package config loads displayd settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/IvanBrykalov/rescache/display"
)

// EnvPrefix is prepended to every environment override, e.g. DISPLAYD_CACHE_MAX_COST.
const EnvPrefix = "DISPLAYD"

// Config is the full daemon configuration.
type Config struct {
	Cache    CacheConfig     `mapstructure:"cache"`
	Displays []DisplayConfig `mapstructure:"displays"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	Log      LogConfig       `mapstructure:"log"`
}

// CacheConfig bounds the server cache.
type CacheConfig struct {
	MaxCost int64 `mapstructure:"max_cost"`
}

// DisplayConfig describes one display node.
type DisplayConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
}

// HTTPConfig configures the status endpoint. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Manager owns a viper instance and the last valid Config.
type Manager struct {
	v   *viper.Viper
	log zerolog.Logger

	mu        sync.RWMutex
	cfg       *Config
	callbacks []func(*Config)
	watching  bool
}

// NewManager prepares a manager. With an empty path it searches for
// displayd.{toml,yaml,json} in the working directory and /etc/displayd;
// a missing file is not an error there. An explicit path must exist.
func NewManager(path string, log zerolog.Logger) *Manager {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("displayd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/displayd")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Manager{v: v, log: log}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.max_cost", display.DefaultMaxServers)
	v.SetDefault("displays", []map[string]any{{"name": "display", "port": display.DefaultPort}})
	v.SetDefault("http.addr", ":9559")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the configuration and validates it.
func (m *Manager) Load() (*Config, error) {
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", m.v.ConfigFileUsed(), err)
		}
	}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (m *Manager) File() string { return m.v.ConfigFileUsed() }

// Get returns the last successfully loaded configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch calls fn with every valid configuration written to the file after
// this call. Invalid edits are logged and ignored. Watching without a
// config file is a no-op.
func (m *Manager) Watch(fn func(*Config)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	start := !m.watching && m.v.ConfigFileUsed() != ""
	if start {
		m.watching = true
	}
	m.mu.Unlock()
	if !start {
		return
	}

	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.log.Debug().Str("op", e.Op.String()).Str("file", e.Name).Msg("config change")
		cfg, err := m.decode()
		if err != nil {
			m.log.Warn().Err(err).Msg("reload config")
			return
		}

		m.mu.Lock()
		m.cfg = cfg
		callbacks := slices.Clone(m.callbacks)
		m.mu.Unlock()

		for _, cb := range callbacks {
			cb(cfg)
		}
	})
	m.v.WatchConfig()
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	for i := range cfg.Displays {
		cfg.Displays[i].Name = strings.TrimSpace(cfg.Displays[i].Name)
	}
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Validate checks value ranges and display name uniqueness.
func Validate(cfg *Config) error {
	if cfg.Cache.MaxCost <= 0 {
		return fmt.Errorf("%w: cache.max_cost must be > 0, got %d", ErrInvalid, cfg.Cache.MaxCost)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalid, cfg.Log.Format)
	}
	seen := make(map[string]struct{}, len(cfg.Displays))
	for i, d := range cfg.Displays {
		if d.Name == "" {
			return fmt.Errorf("%w: displays[%d]: name is required", ErrInvalid, i)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: displays[%d]: duplicate name %q", ErrInvalid, i, d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("%w: displays[%d]: port %d out of range", ErrInvalid, i, d.Port)
		}
	}
	return nil
}
