package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	HTTPAddress   string
	SocketAddress string

	DatabaseURL   string
	RedisAddress  string
	RedisPassword string

	// TokenSecret signs and verifies user, worker and app credentials.
	TokenSecret string

	BacklogSweepSchedule string
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"HTTPAddress":          "HTTP_ADDRESS",
		"SocketAddress":        "SOCKET_ADDRESS",
		"DatabaseURL":          "DATABASE_URL",
		"RedisAddress":         "REDIS_ADDRESS",
		"RedisPassword":        "REDIS_PASSWORD",
		"TokenSecret":          "TOKEN_SECRET",
		"BacklogSweepSchedule": "BACKLOG_SWEEP_SCHEDULE",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("foldstream_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.foldstream")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if config.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8081")
	v.SetDefault("SocketAddress", ":8082")
	v.SetDefault("RedisAddress", "localhost:6379")
	v.SetDefault("BacklogSweepSchedule", "@every 1m")
}
