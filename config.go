package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	driverAzure  = "azure"
	driverSQLite = "sqlite"
)

type StoreConfig struct {
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connectionString"`
	TasksTable       string `yaml:"tasksTable"`
	EventsQueue      string `yaml:"eventsQueue"`
	SQLitePath       string `yaml:"sqlitePath"`
}

type RedisConfig struct {
	URL            string        `yaml:"url"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	ChangesChannel string        `yaml:"changesChannel"`
	DedupeTTL      time.Duration `yaml:"dedupeTTL"`
}

type AuthSettings struct {
	Domain       string        `yaml:"domain"`
	Audience     string        `yaml:"audience"`
	TestMode     bool          `yaml:"testMode"`
	TestSecret   string        `yaml:"testSecret"`
	JWKSCacheTTL time.Duration `yaml:"jwksCacheTTL"`
	AllowedEmail string        `yaml:"allowedEmail"`
	ClientID     string        `yaml:"clientID"`
	ClientSecret string        `yaml:"clientSecret"`
	RedirectURL  string        `yaml:"redirectURL"`
	CookieSecure bool          `yaml:"cookieSecure"`
}

// Config is the service configuration: an optional YAML file with
// environment variables layered on top.
type Config struct {
	ListenAddr    string        `yaml:"listenAddr"`
	Timezone      string        `yaml:"timezone"`
	AutosaveDelay time.Duration `yaml:"autosaveDelay"`
	Debug         bool          `yaml:"debug"`
	LogFormat     string        `yaml:"logFormat"`
	Store         StoreConfig   `yaml:"store"`
	Redis         RedisConfig   `yaml:"redis"`
	Auth          AuthSettings  `yaml:"auth"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		Timezone:      "UTC",
		AutosaveDelay: time.Second,
		LogFormat:     "text",
		Store: StoreConfig{
			Driver:     driverAzure,
			TasksTable: "tasks",
			SQLitePath: "journal.db",
		},
		Redis: RedisConfig{
			CacheTTL:       5 * time.Minute,
			ChangesChannel: "journal-changes",
			DedupeTTL:      24 * time.Hour,
		},
		Auth: AuthSettings{
			JWKSCacheTTL: 15 * time.Minute,
			CookieSecure: true,
		},
	}
}

// LoadConfig reads path (when set), applies env overrides and validates.
func LoadConfig(path string, getenv func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.LookupEnv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := getenv(name); ok && v != "" {
			*dst = v
		}
	}
	flag := func(name string, dst *bool) {
		v, ok := getenv(name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
			return
		}
		*dst = b
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := getenv(name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
			return
		}
		*dst = d
	}

	if port, ok := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.ListenAddr = ":" + port
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("TIMEZONE", &c.Timezone)
	dur("AUTOSAVE_DELAY", &c.AutosaveDelay)
	flag("DEBUG", &c.Debug)
	str("LOG_FORMAT", &c.LogFormat)

	str("STORE_DRIVER", &c.Store.Driver)
	str("STORAGE_CONNECTION_STRING", &c.Store.ConnectionString)
	str("TASKS_TABLE", &c.Store.TasksTable)
	str("TASK_EVENTS_QUEUE", &c.Store.EventsQueue)
	str("SQLITE_PATH", &c.Store.SQLitePath)

	str("REDIS_CONNECTION_STRING", &c.Redis.URL)
	dur("CACHE_TTL", &c.Redis.CacheTTL)
	str("CHANGES_CHANNEL", &c.Redis.ChangesChannel)
	dur("DEDUPER_TTL", &c.Redis.DedupeTTL)

	str("AUTH0_DOMAIN", &c.Auth.Domain)
	str("AUTH0_AUDIENCE", &c.Auth.Audience)
	if v, ok := getenv("AUTH0_TEST_MODE"); ok && v != "" {
		c.Auth.TestMode = v == "1" || strings.EqualFold(v, "true")
	}
	str("TEST_JWT_SECRET", &c.Auth.TestSecret)
	dur("JWKS_CACHE_TTL", &c.Auth.JWKSCacheTTL)
	str("ALLOWED_EMAIL", &c.Auth.AllowedEmail)
	str("OAUTH_CLIENT_ID", &c.Auth.ClientID)
	str("OAUTH_CLIENT_SECRET", &c.Auth.ClientSecret)
	str("OAUTH_REDIRECT_URL", &c.Auth.RedirectURL)
	flag("COOKIE_SECURE", &c.Auth.CookieSecure)

	return errors.Join(errs...)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case driverAzure:
		if c.Store.ConnectionString == "" || c.Store.TasksTable == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING and TASKS_TABLE are required"))
		}
	case driverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("missing SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Store.EventsQueue != "" && c.Store.ConnectionString == "" {
		errs = append(errs, errors.New("TASK_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
	}
	if c.AutosaveDelay <= 0 {
		errs = append(errs, errors.New("invalid AUTOSAVE_DELAY: must be greater than zero"))
	}
	if c.Redis.CacheTTL < 0 {
		errs = append(errs, errors.New("invalid CACHE_TTL: must not be negative"))
	}
	if c.Redis.DedupeTTL <= 0 {
		errs = append(errs, errors.New("invalid DEDUPER_TTL: must be greater than zero"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}

	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth.Domain == "" || c.Auth.Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config: AUTH0_DOMAIN and AUTH0_AUDIENCE are required"))
	}
	if c.Auth.AllowedEmail == "" {
		errs = append(errs, errors.New("missing ALLOWED_EMAIL"))
	}
	if c.Auth.ClientID != "" {
		if c.Auth.RedirectURL == "" || c.Auth.Domain == "" {
			errs = append(errs, errors.New("OAUTH_CLIENT_ID requires OAUTH_REDIRECT_URL and AUTH0_DOMAIN"))
		}
	}
	return errors.Join(errs...)
}

// Issuer is the expected token issuer, empty in test mode.
func (c *Config) Issuer() string {
	if c.Auth.TestMode || c.Auth.Domain == "" {
		return ""
	}
	return "https://" + c.Auth.Domain + "/"
}
