package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction = "production"

	// MaxCallerKeys bounds the caller allow-list.
	MaxCallerKeys = 16

	defaultAdminKey = "adminadmin"
)

var defaultCallerKeys = []string{"temp_api_key", "temp_api_key_one"}

type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Store     StoreConfig        `mapstructure:"store"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Upstream  UpstreamConfig     `mapstructure:"upstream"`
	Routing   RoutingConfig      `mapstructure:"routing"`
	RateLimit RateLimitConfig    `mapstructure:"rate_limit"`
	Log       LogConfig          `mapstructure:"log"`
	Tracing   TracingConfig      `mapstructure:"tracing"`
	Providers []domain.SeedEntry `mapstructure:"providers"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CheckUpdates    bool          `mapstructure:"check_updates"`
	// DebugAddr serves expvar when set, e.g. 127.0.0.1:6060.
	DebugAddr string `mapstructure:"debug_addr"`
}

// AuthConfig holds the admin secret and the caller allow-list.
type AuthConfig struct {
	AdminKey   string        `mapstructure:"admin_key"`
	CallerKeys []string      `mapstructure:"caller_keys"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, redis, sqlite
	DSN             string        `mapstructure:"dsn"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type UpstreamConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RoutingConfig struct {
	CircuitBreaker bool `mapstructure:"circuit_breaker"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, EnvProduction)
}

// StoreDriver returns the configured driver, falling back to redis when a
// redis location is configured and memory otherwise.
func (c *Config) StoreDriver() string {
	if c.Store.Driver != "" {
		return strings.ToLower(c.Store.Driver)
	}
	if c.Redis.URL != "" || c.Redis.Addr != "" {
		return "redis"
	}
	return "memory"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	fileRead := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		fileRead = false
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// TIMEOUT_SECONDS is a bare, possibly fractional, number of seconds.
	if secs := v.GetFloat64("timeout_seconds"); secs > 0 {
		cfg.Upstream.Timeout = time.Duration(secs * float64(time.Second))
	}

	if used := v.ConfigFileUsed(); fileRead && len(cfg.Providers) > 0 {
		if err := restoreMappingCase(used, cfg.Providers); err != nil {
			return nil, fmt.Errorf("error reading model mappings: %w", err)
		}
	}

	for _, key := range []string{v.GetString("temp_api_key"), v.GetString("temp_api_key_one")} {
		if key != "" {
			cfg.Auth.CallerKeys = append(cfg.Auth.CallerKeys, key)
		}
	}

	// Resolve API Keys
	for i, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			val := os.Getenv(envVar)
			if val == "" {
				val = v.GetString(envVar)
			}
			cfg.Providers[i].APIKey = val
		}
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// restoreMappingCase reloads each provider's model_mapping from the raw file.
// Viper folds map keys to lower case, which would break aliases such as
// "GPT-4".
func restoreMappingCase(path string, providers []domain.SeedEntry) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw struct {
		Providers []struct {
			ModelMapping map[string]string `yaml:"model_mapping"`
		} `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Providers) != len(providers) {
		return nil
	}

	for i, p := range raw.Providers {
		if p.ModelMapping != nil {
			providers[i].ModelMapping = p.ModelMapping
		}
	}
	return nil
}

// Resolve applies environment dependent auth defaults and checks limits.
func (c *Config) Resolve() error {
	c.Auth.CallerKeys = dedupe(c.Auth.CallerKeys)

	if !c.IsProduction() {
		if c.Auth.AdminKey == "" {
			c.Auth.AdminKey = defaultAdminKey
		}
		if len(c.Auth.CallerKeys) == 0 {
			c.Auth.CallerKeys = append([]string(nil), defaultCallerKeys...)
		}
	}

	if len(c.Auth.CallerKeys) > MaxCallerKeys {
		return fmt.Errorf("too many caller keys: %d (max %d)", len(c.Auth.CallerKeys), MaxCallerKeys)
	}

	switch c.StoreDriver() {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.check_updates", false)
	v.SetDefault("server.debug_addr", "")
	v.SetDefault("auth.caller_keys", []string{})
	v.SetDefault("auth.session_ttl", 12*time.Hour)
	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "uniapi.db")
	v.SetDefault("store.refresh_interval", 30*time.Second)
	v.SetDefault("redis.prefix", "uniapi")
	v.SetDefault("upstream.timeout", 60*time.Second)
	v.SetDefault("routing.circuit_breaker", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "uniapi")
}

// bindLegacyEnv keeps the flat variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("server.env", "SERVER_ENV", "ENVIRONMENT")
	_ = v.BindEnv("auth.admin_key", "AUTH_ADMIN_KEY", "ADMIN_API_KEY")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("temp_api_key", "TEMP_API_KEY")
	_ = v.BindEnv("temp_api_key_one", "TEMP_API_KEY_ONE")
	_ = v.BindEnv("timeout_seconds", "TIMEOUT_SECONDS")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
