package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/foundrygate/internal/audit"
	"github.com/davidbz/foundrygate/internal/foundry"
	"github.com/davidbz/foundrygate/internal/observability"
)

// Config represents the adapter configuration.
type Config struct {
	Server  ServerConfig
	CORS    CORSConfig
	Logging observability.Config
	Audit   audit.Config
	Azure   foundry.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string `env:"SERVER_HOST"         envDefault:"0.0.0.0"`
	Port        int    `env:"SERVER_PORT"         envDefault:"8000"`
	ReadTimeout int    `env:"SERVER_READ_TIMEOUT" envDefault:"30"`

	// WriteTimeout of 0 disables the deadline: streaming responses outlive
	// any fixed write bound.
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	Logging *observability.Config
	Audit   *audit.Config
	Azure   *foundry.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Logging,
		&cfg.Audit,
		&cfg.Azure,
	}
}
