package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/pkg/database"
	"github.com/dhawalhost/scimbridge/pkg/observability"
)

const envPrefix = "SCIMBRIDGE"

type appConfig struct {
	Log        logConfig                  `mapstructure:"log"`
	Server     serverConfig               `mapstructure:"server"`
	Tracing    observability.TracerConfig `mapstructure:"tracing"`
	Database   database.Config            `mapstructure:"database"`
	Connectors []connector.Config         `mapstructure:"connectors"`
}

type logConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type serverConfig struct {
	Addr string `mapstructure:"addr"`
	// Token protects the API when set.
	Token           string        `mapstructure:"token"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxResults      int           `mapstructure:"max_results"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.token", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_results", connector.DefaultMaxResults)
	v.SetDefault("tracing.service_name", "scimbridge")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("database.dsn", "")
}

// loadConfig reads file, when given, under SCIMBRIDGE_* environment overrides.
func loadConfig(v *viper.Viper, file string) (appConfig, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return appConfig{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
