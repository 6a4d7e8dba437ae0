package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Channel ChannelConfig `mapstructure:"channel"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig holds the history API configuration
type APIConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
}

// ChannelConfig holds the event channel configuration
type ChannelConfig struct {
	URL            string        `mapstructure:"url"`
	MinBackoff     time.Duration `mapstructure:"min_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	HandshakeGrace time.Duration `mapstructure:"handshake_grace"`
}

// AuthConfig holds the bearer token issued by the identity provider.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// CacheConfig holds the local snapshot cache configuration
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads the configuration from config.yaml, or from the file named by
// the CONFIG_PATH environment variable when set.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("api.page_size", 20)
	viper.SetDefault("channel.min_backoff", time.Second)
	viper.SetDefault("channel.max_backoff", 30*time.Second)
	viper.SetDefault("channel.max_reconnects", 0) // 0 = retry forever
	viper.SetDefault("channel.handshake_grace", 10*time.Second)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
