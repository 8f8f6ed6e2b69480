// Package config loads the application configuration from an optional YAML
// file and DOCPIPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "DOCPIPE"

// Config holds the configuration for the application.
type Config struct {
	Store struct {
		Driver   string `mapstructure:"driver"`
		DataDir  string `mapstructure:"data_dir"`
		DSN      string `mapstructure:"dsn"`
		Landlord string `mapstructure:"landlord"`
	} `mapstructure:"store"`
	Durable struct {
		Dir         string `mapstructure:"dir"`
		Sweep       string `mapstructure:"sweep"`
		Concurrency int    `mapstructure:"concurrency"`
		Batch       int    `mapstructure:"batch"`
		MaxAttempts int    `mapstructure:"max_attempts"`
	} `mapstructure:"durable"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.landlord", "landlord")
	v.SetDefault("durable.dir", "")
	v.SetDefault("durable.sweep", "@every 5s")
	v.SetDefault("durable.concurrency", 4)
	v.SetDefault("durable.batch", 50)
	v.SetDefault("durable.max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads path when given, then applies environment overrides such as
// DOCPIPE_STORE_DRIVER. A missing file is an error; no file at all is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q not supported", c.Store.Driver))
	}
	if c.Store.Landlord == "" {
		errs = append(errs, errors.New("store.landlord required"))
	}
	if c.Durable.Concurrency < 1 {
		errs = append(errs, errors.New("durable.concurrency must be positive"))
	}
	if c.Durable.Batch < 1 {
		errs = append(errs, errors.New("durable.batch must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}
