package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		URL                string `yaml:"url"`
		Timeout            string `yaml:"timeout"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"server"`

	Keys struct {
		// Directorio del FileKeyring (user/ y servers/).
		Dir             string `yaml:"dir"`
		UserFingerprint string `yaml:"user_fingerprint"`
		// Nombre de la variable de entorno con la passphrase de la clave privada.
		PassphraseEnv string `yaml:"passphrase_env"`
	} `yaml:"keys"`

	Cache struct {
		// memory | file | redis | postgres
		Kind   string `yaml:"kind"`
		Prefix string `yaml:"prefix"`
		File   struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		Redis struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"cache"`

	Log struct {
		// dev | prod (si está vacío se usa app.app_env)
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Status struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"status"`
}

// Load lee path (si no está vacío), aplica defaults y overrides GPGAUTH_*.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func defaultKeysDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "gpgauth", "keys")
	}
	return filepath.Join(".gpgauth", "keys")
}

// sane defaults
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "20s"
	}
	if c.Keys.Dir == "" {
		c.Keys.Dir = defaultKeysDir()
	}
	if c.Keys.PassphraseEnv == "" {
		c.Keys.PassphraseEnv = "GPGAUTH_PASSPHRASE"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "file"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "gpgauth"
	}
	if c.Cache.File.Path == "" {
		c.Cache.File.Path = filepath.Join(filepath.Dir(c.Keys.Dir), "state.json")
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Log.Env == "" {
		c.Log.Env = c.App.Env
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Status.PollInterval == "" {
		c.Status.PollInterval = "30s"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa config.yaml con variables GPGAUTH_*.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("GPGAUTH_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("GPGAUTH_SERVER_URL"); ok {
		c.Server.URL = v
	}
	if v, ok := getEnvStr("GPGAUTH_SERVER_TIMEOUT"); ok {
		c.Server.Timeout = v
	}
	if v, ok := getEnvBool("GPGAUTH_SERVER_INSECURE_SKIP_VERIFY"); ok {
		c.Server.InsecureSkipVerify = v
	}

	// KEYS
	if v, ok := getEnvStr("GPGAUTH_KEYS_DIR"); ok {
		c.Keys.Dir = v
	}
	if v, ok := getEnvStr("GPGAUTH_USER_FINGERPRINT"); ok {
		c.Keys.UserFingerprint = strings.ToUpper(v)
	}
	if v, ok := getEnvStr("GPGAUTH_PASSPHRASE_ENV"); ok {
		c.Keys.PassphraseEnv = v
	}

	// CACHE
	if v, ok := getEnvStr("GPGAUTH_CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("GPGAUTH_CACHE_PREFIX"); ok {
		c.Cache.Prefix = v
	}
	if v, ok := getEnvStr("GPGAUTH_CACHE_FILE_PATH"); ok {
		c.Cache.File.Path = v
	}
	if v, ok := getEnvStr("GPGAUTH_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("GPGAUTH_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("GPGAUTH_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvStr("GPGAUTH_PG_DSN"); ok {
		c.Cache.Postgres.DSN = v
	}

	// LOG
	if v, ok := getEnvStr("GPGAUTH_LOG_ENV"); ok {
		c.Log.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("GPGAUTH_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// STATUS
	if v, ok := getEnvStr("GPGAUTH_STATUS_POLL_INTERVAL"); ok {
		c.Status.PollInterval = v
	}
}

// Validate chequea durations, kind de cache y URL del servidor (si hay).
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("server.timeout: %w", err))
	}
	if d, err := time.ParseDuration(c.Status.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("status.poll_interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, errors.New("status.poll_interval must be positive"))
	}
	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.url %q must be an absolute http(s) url", c.Server.URL))
		}
	}
	switch c.Cache.Kind {
	case "memory", "file":
	case "redis":
		if _, _, err := net.SplitHostPort(c.Cache.Redis.Addr); err != nil {
			errs = append(errs, fmt.Errorf("cache.redis.addr: %w", err))
		}
	case "postgres", "pg":
		if c.Cache.Postgres.DSN == "" {
			errs = append(errs, errors.New("cache.postgres.dsn is required for the postgres cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q is not supported", c.Cache.Kind))
	}
	return errors.Join(errs...)
}

// ServerTimeout devuelve server.timeout ya parseado.
func (c *Config) ServerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.Timeout)
	return d
}

// PollInterval devuelve status.poll_interval ya parseado.
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Status.PollInterval)
	return d
}

// RedisHostPort separa cache.redis.addr.
func (c *Config) RedisHostPort() (string, int) {
	host, p, err := net.SplitHostPort(c.Cache.Redis.Addr)
	if err != nil {
		return c.Cache.Redis.Addr, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}
