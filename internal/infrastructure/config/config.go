// Package config loads milepost settings from milepost.yaml, MILEPOST_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/milepost/pkg/domain/messaging"
)

const (
	FileName  = "milepost.yaml"
	EnvPrefix = "MILEPOST"
)

// Storage drivers.
const (
	DriverMemory     = "memory"
	DriverFilesystem = "filesystem"
	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Cascade CascadeConfig `mapstructure:"cascade"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Log     LogConfig     `mapstructure:"log"`
	// Messaging lists extra notification adapters (webhook, slack, amqp).
	Messaging messaging.MessagingConfig `mapstructure:"messaging"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the workspace root for filesystem and the database file for sqlite.
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

type CascadeConfig struct {
	Mode             string        `mapstructure:"mode"`
	PrimaryTimeout   time.Duration `mapstructure:"primary_timeout"`
	FallbackAttempts int           `mapstructure:"fallback_attempts"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"base_path"`
}

// RedisConfig enables the booking progress cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AMQPConfig enables the event publisher when URL is set. It is shorthand for
// a single amqp entry under messaging.adapters.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: DriverFilesystem, Path: "."},
		Cascade: CascadeConfig{Mode: "sync", PrimaryTimeout: 3 * time.Second, FallbackAttempts: 3},
		HTTP:    HTTPConfig{Addr: ":8080", BasePath: "/v1"},
		Redis:   RedisConfig{TTL: 5 * time.Minute},
		AMQP:    AMQPConfig{Exchange: "milepost.events"},
		Log:     LogConfig{Level: "info"},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("cascade.mode", d.Cascade.Mode)
	v.SetDefault("cascade.primary_timeout", d.Cascade.PrimaryTimeout)
	v.SetDefault("cascade.fallback_attempts", d.Cascade.FallbackAttempts)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.base_path", d.HTTP.BasePath)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("amqp.url", d.AMQP.URL)
	v.SetDefault("amqp.exchange", d.AMQP.Exchange)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// NewViper returns a viper instance with defaults and env binding. When file
// is empty, milepost.yaml in the working directory is used if present.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file == "" {
		if _, err := os.Stat(FileName); err != nil {
			return v, nil
		}
		file = FileName
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", file, err)
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ValidationErrors collects every problem found in a config.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	return v
}

var ErrInvalidConfig = errors.New("invalid config value")

// Adapters returns the messaging adapters with the amqp section appended.
func (c *Config) Adapters() *messaging.MessagingConfig {
	out := &messaging.MessagingConfig{Adapters: append([]messaging.AdapterConfig(nil), c.Messaging.Adapters...)}
	if c.AMQP.URL != "" {
		out.Adapters = append(out.Adapters, messaging.AdapterConfig{
			Name:    "amqp",
			Type:    messaging.TypeAMQP,
			URL:     c.AMQP.URL,
			Enabled: true,
			Options: map[string]string{"exchange": c.AMQP.Exchange},
		})
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate returns one error per invalid field.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverFilesystem:
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, invalid("storage.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, invalid("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, invalid("storage.driver %q is not one of memory, filesystem, postgres, sqlite", c.Storage.Driver))
	}
	if c.Cascade.Mode != "sync" && c.Cascade.Mode != "async" {
		errs = append(errs, invalid("cascade.mode %q must be sync or async", c.Cascade.Mode))
	}
	if c.Cascade.PrimaryTimeout <= 0 {
		errs = append(errs, invalid("cascade.primary_timeout must be positive"))
	}
	if c.Cascade.FallbackAttempts < 1 {
		errs = append(errs, invalid("cascade.fallback_attempts must be at least 1"))
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		errs = append(errs, invalid("http.base_path must start with /"))
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, invalid("redis.ttl must be positive when redis is enabled"))
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, invalid("amqp.exchange is required when amqp is enabled"))
	}
	for i, a := range c.Messaging.Adapters {
		switch a.Type {
		case messaging.TypeWebhook, messaging.TypeSlack, messaging.TypeAMQP:
		default:
			errs = append(errs, invalid("messaging.adapters[%d].type %q is not one of webhook, slack, amqp", i, a.Type))
		}
		if a.Enabled && a.URL == "" {
			errs = append(errs, invalid("messaging.adapters[%d].url is required", i))
		}
		if a.MaxAttempts < 0 {
			errs = append(errs, invalid("messaging.adapters[%d].max_attempts must not be negative", i))
		}
	}
	return errs
}

// fileLayout mirrors Config for milepost.yaml with human-readable durations.
type fileLayout struct {
	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn,omitempty"`
	} `yaml:"storage"`
	Cascade struct {
		Mode             string `yaml:"mode"`
		PrimaryTimeout   string `yaml:"primary_timeout"`
		FallbackAttempts int    `yaml:"fallback_attempts"`
	} `yaml:"cascade"`
	HTTP struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"http"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
		TTL  string `yaml:"ttl"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// MarshalYAML renders c as a milepost.yaml document. Secrets are left out.
func (c *Config) MarshalYAML() ([]byte, error) {
	var f fileLayout
	f.Storage.Driver = c.Storage.Driver
	f.Storage.Path = c.Storage.Path
	f.Storage.DSN = c.Storage.DSN
	f.Cascade.Mode = c.Cascade.Mode
	f.Cascade.PrimaryTimeout = c.Cascade.PrimaryTimeout.String()
	f.Cascade.FallbackAttempts = c.Cascade.FallbackAttempts
	f.HTTP.Addr = c.HTTP.Addr
	f.HTTP.BasePath = c.HTTP.BasePath
	f.Redis.Addr = c.Redis.Addr
	f.Redis.DB = c.Redis.DB
	f.Redis.TTL = c.Redis.TTL.String()
	f.AMQP.URL = c.AMQP.URL
	f.AMQP.Exchange = c.AMQP.Exchange
	f.Log.Level = c.Log.Level
	f.Log.Development = c.Log.Development
	return yaml.Marshal(&f)
}

// WriteFile writes c to dir/milepost.yaml unless the file already exists.
func WriteFile(dir string, c *Config) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	data, err := c.MarshalYAML()
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	// G306: Use 0600 for files
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}
