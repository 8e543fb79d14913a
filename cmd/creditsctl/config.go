package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the creditsctl configuration. Every key can be set in the
// config file or through a CREDITS_ prefixed environment variable.
type Config struct {
	Addr          string        `mapstructure:"addr"`
	LogLevel      string        `mapstructure:"log_level"`
	IdentityPath  string        `mapstructure:"identity_path"`
	AuthSecret    string        `mapstructure:"auth_secret"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`

	RedisAddr string `mapstructure:"redis_addr"`

	MidtransServerKey string `mapstructure:"midtrans_server_key"`
	MidtransEnv       string `mapstructure:"midtrans_env"`

	GenerationURL   string `mapstructure:"generation_url"`
	GenerationToken string `mapstructure:"generation_token"`
	GenerationCost  int64  `mapstructure:"generation_cost"`

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
}

var configKeys = []string{
	"addr", "log_level", "identity_path", "auth_secret", "remote_timeout",
	"redis_addr",
	"midtrans_server_key", "midtrans_env",
	"generation_url", "generation_token", "generation_cost",
	"s3_bucket", "s3_region", "s3_endpoint",
}

// loadConfig reads path when it is set, then overlays the environment.
// A missing default config file is not an error.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("identity_path", "credits-identity.toml")
	v.SetDefault("remote_timeout", 15*time.Second)
	v.SetDefault("midtrans_env", "sandbox")
	v.SetDefault("generation_cost", 1)
	v.SetDefault("s3_region", "us-east-1")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("creditsctl")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITS")
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
