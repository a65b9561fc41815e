package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultConfigDir = "./configs"
	EnvPrefix        = "MIMASAKA"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	AdminPrefix  string        `mapstructure:"admin_prefix"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Backend   string        `mapstructure:"backend"` // memory or redis
	RecordTTL time.Duration `mapstructure:"record_ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Validate rejects settings the server can't start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.AdminPrefix != "" && !strings.HasPrefix(c.Server.AdminPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.admin_prefix %q must start with /", c.Server.AdminPrefix))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("storage.backend redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be %s or %s", c.Storage.Backend, BackendMemory, BackendRedis))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit needs positive requests_per_second and burst"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return lvl, nil
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

// NewStore returns a Store holding cfg, for callers that don't load from disk.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

// OnChange registers fn to run after every successful reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Set replaces the current configuration and notifies listeners.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		cpy := *cfg
		fn(&cpy)
	}
}

func newViper(dir string) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// MIMASAKA_SERVER__PORT overrides server::port
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "__"))
	v.AutomaticEnv()

	v.SetDefault("server::port", ":8080")
	v.SetDefault("server::admin_prefix", "/__admin__")
	v.SetDefault("server::read_timeout", 15*time.Second)
	v.SetDefault("server::write_timeout", 15*time.Second)
	v.SetDefault("storage::backend", BackendMemory)
	v.SetDefault("storage::record_ttl", time.Duration(0))
	v.SetDefault("redis::address", "localhost:6379")
	v.SetDefault("redis::password", "")
	v.SetDefault("redis::db", 0)
	v.SetDefault("redis::enabled", false)
	v.SetDefault("ratelimit::enabled", false)
	v.SetDefault("ratelimit::requests_per_second", 50.0)
	v.SetDefault("ratelimit::burst", 100)
	v.SetDefault("logging::level", "info")
	v.SetDefault("logging::format", "json")
	return v
}

// LoadAndWatch loads the config from dir and watches for on-disk changes.
// A missing config file is not an error: defaults and environment apply.
// A .env file in the working directory is loaded into the environment first.
func LoadAndWatch(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if dir == "" {
		dir = DefaultConfigDir
	}
	v := newViper(dir)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		fileFound = false
		logger.Warn("no config file found, using defaults", "dir", dir)
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				logger.Error("config reload failed", "file", e.Name, "error", err)
			} else {
				logger.Info("config reloaded", "file", e.Name)
			}
		})
		v.WatchConfig()
	}

	return store, nil
}

// Load reads the config once without watching.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = DefaultConfigDir
	}
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func refresh(v *viper.Viper, store *Store) error {
	cfg, err := decode(v)
	if err != nil {
		return err
	}
	store.Set(cfg)
	return nil
}
