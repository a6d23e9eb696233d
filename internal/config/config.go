// Package config loads limscore settings from a YAML file and LIMSCORE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"limscore/internal/blob"
	"limscore/internal/core"
	"limscore/internal/upgrade"
)

// EnvPrefix prefixes every environment override, e.g. LIMSCORE_STORAGE_DRIVER.
const EnvPrefix = "LIMSCORE"

// Config holds the configuration of the service and the CLI.
type Config struct {
	Log struct {
		Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	} `mapstructure:"log"`
	Storage core.StorageConfig `mapstructure:"storage"`
	Blob    blob.Config        `mapstructure:"blob"`
	HTTP    struct {
		Addr    string `mapstructure:"addr" validate:"required"`
		Metrics bool   `mapstructure:"metrics"`
	} `mapstructure:"http"`
	I18n struct {
		Language string `mapstructure:"language" validate:"required"`
	} `mapstructure:"i18n"`
	Upgrade struct {
		ProgressEvery int  `mapstructure:"progress_every" validate:"min=1"`
		Backup        bool `mapstructure:"backup"`
	} `mapstructure:"upgrade"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("storage.sqlite_path", "limscore.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_key", "")
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics", true)
	v.SetDefault("i18n.language", "en")
	v.SetDefault("upgrade.progress_every", upgrade.DefaultProgressEvery)
	v.SetDefault("upgrade.backup", false)
}

// Load reads path, or limscore.yaml from . and ./config when path is
// empty. A missing default file is not an error; every key then comes from
// the defaults and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("limscore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks field constraints. The S3 section is only checked when
// the blob driver is s3.
func (c *Config) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.StructExcept(c, "Blob.S3"); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.EqualFold(string(c.Blob.Driver), string(blob.DriverS3)) {
		if err := validate.Struct(c.Blob.S3); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}
