// Package config loads the tool configuration from a YAML file, a .env
// file and TRANSLATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ownlingo/catalog-translate/translator"
	"github.com/ownlingo/catalog-translate/translator/retry"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRANSLATE_BATCH_CONCURRENCY.
const EnvPrefix = "TRANSLATE"

type Config struct {
	Providers        []ProviderConfig `mapstructure:"providers"`
	ProviderDefaults ProviderDefaults `mapstructure:"provider_defaults"`
	Retry            RetryConfig      `mapstructure:"retry"`
	Batch            BatchConfig      `mapstructure:"batch"`
	Server           ServerConfig     `mapstructure:"server"`
	Store            StoreConfig      `mapstructure:"store"`
	Log              LogConfig        `mapstructure:"log"`
}

// ProviderConfig is one entry of the ordered provider list. Auth may
// reference environment variables as ${NAME}.
type ProviderConfig struct {
	Name          string            `mapstructure:"name"`
	Kind          string            `mapstructure:"kind"`
	Endpoint      string            `mapstructure:"endpoint"`
	Auth          string            `mapstructure:"auth"`
	Model         string            `mapstructure:"model"`
	MaxTokens     int               `mapstructure:"max_tokens"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MaxRetries    *int              `mapstructure:"max_retries"`
	RPM           int               `mapstructure:"rpm"`
	TPM           int               `mapstructure:"tpm"`
	Enabled       *bool             `mapstructure:"enabled"`
	RequestFields map[string]string `mapstructure:"request_fields"`
	ResponsePaths []string          `mapstructure:"response_paths"`
}

// IsEnabled reports whether the provider takes part in the chain; unset means yes
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type ProviderDefaults struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	TargetLang  string `mapstructure:"target_lang"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       string        `mapstructure:"body_limit"`
}

type StoreConfig struct {
	Kind        string `mapstructure:"kind"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. envFile, when non-empty, must exist; otherwise
// a ./.env file is loaded if present. configPath, when empty, searches for
// translate-tool.yaml in the working directory and $HOME/.translate-tool.
func Load(configPath, envFile string) (*Config, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("translate-tool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.translate-tool")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider_defaults.timeout", 30*time.Second)
	v.SetDefault("provider_defaults.max_retries", 2)

	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.target_lang", "zh")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.body_limit", "1M")

	v.SetDefault("store.kind", "json")
	v.SetDefault("store.sqlite_path", "./translations.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks the values Load cannot default
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Errorf("provider %s: name is required", label))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %s: duplicate name", label))
		}
		seen[p.Name] = true

		kind, err := translator.ParseProviderKind(p.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", label, err))
		}
		if p.Endpoint == "" && kind == translator.KindMirror {
			errs = append(errs, fmt.Errorf("provider %s: endpoint is required for kind %s", label, kind))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("provider %s: timeout must not be negative", label))
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("provider %s: max_retries must not be negative", label))
		}
	}

	if c.ProviderDefaults.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider_defaults.timeout must be positive"))
	}
	if c.ProviderDefaults.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("provider_defaults.max_retries must not be negative"))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be at least 1"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive"))
	}

	switch c.Store.Kind {
	case "json", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("store.postgres_dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}

	return errors.Join(errs...)
}

// ProviderSpecs returns the enabled providers in priority order with
// defaults applied and ${VAR} references in auth expanded.
func (c *Config) ProviderSpecs() ([]translator.ProviderSpec, error) {
	specs := make([]translator.ProviderSpec, 0, len(c.Providers))
	for _, p := range c.Providers {
		if !p.IsEnabled() {
			continue
		}

		kind, err := translator.ParseProviderKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}

		spec := translator.ProviderSpec{
			Name:          p.Name,
			Kind:          kind,
			Endpoint:      os.ExpandEnv(p.Endpoint),
			Auth:          os.ExpandEnv(p.Auth),
			Model:         p.Model,
			MaxTokens:     p.MaxTokens,
			Timeout:       p.Timeout,
			MaxRetries:    c.ProviderDefaults.MaxRetries,
			RPM:           p.RPM,
			TPM:           p.TPM,
			RequestFields: p.RequestFields,
			ResponsePaths: p.ResponsePaths,
		}
		if spec.Timeout == 0 {
			spec.Timeout = c.ProviderDefaults.Timeout
		}
		if p.MaxRetries != nil {
			spec.MaxRetries = *p.MaxRetries
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RetryBackoff returns the shared backoff curve; MaxRetries is set per provider
func (c *Config) RetryBackoff() retry.Config {
	return retry.Config{
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		Multiplier:     c.Retry.Multiplier,
	}
}
