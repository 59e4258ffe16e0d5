package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config covers both binaries. cmd/server reads Hub, cmd/sfu reads SFU;
// shared keys (mode, log level) apply to either.
type Config struct {
	Mode     string    `mapstructure:"mode"`
	LogLevel string    `mapstructure:"log_level"`
	Hub      HubConfig `mapstructure:"hub"`
	SFU      SFUConfig `mapstructure:"sfu"`
}

type HubConfig struct {
	Port         int           `mapstructure:"port"`
	Domain       string        `mapstructure:"domain"`
	Secret       string        `mapstructure:"secret"`
	MediaURL     string        `mapstructure:"media_url"`
	MediaTimeout time.Duration `mapstructure:"media_timeout"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
}

type SFUConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads config/config.<CONFIG_ENV>.yaml if present and applies
// REVERB_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("reverb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("hub.port", 3000)
	v.SetDefault("hub.domain", "")
	v.SetDefault("hub.secret", "")
	v.SetDefault("hub.media_url", "http://localhost:3001")
	v.SetDefault("hub.media_timeout", "10s")
	v.SetDefault("hub.read_limit", 4096)
	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.ping_period", "54s")
	v.SetDefault("sfu.port", 3001)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
