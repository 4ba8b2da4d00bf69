package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	MetricsFile      string   `mapstructure:"METRICS_FILE"`
	RulesFile        string   `mapstructure:"RULES_FILE"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	AnthropicAPIKey  string   `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel   string   `mapstructure:"ANTHROPIC_MODEL"`
	AuthSigningKey   string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	RateLimitRPS     float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit        string   `mapstructure:"BODY_LIMIT"`
	ProvenanceBuffer int      `mapstructure:"PROVENANCE_BUFFER"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"METRICS_FILE", "RULES_FILE", "CORS_ORIGINS",
	"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "PROVENANCE_BUFFER",
}

// Load reads configuration from the environment and an optional .env file.
// Either DATABASE_URL or METRICS_FILE must name a metric configuration
// store.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("PROVENANCE_BUFFER", 1000)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" && cfg.MetricsFile == "" {
		return nil, fmt.Errorf("one of DATABASE_URL or METRICS_FILE is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: requests without a bearer token get admin access")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Store names the metric configuration backend. The database wins when
// both are configured.
func (c *Config) Store() string {
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "file"
}

// NarrativeEnabled reports whether a model key is configured.
func (c *Config) NarrativeEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key of at least 32 bytes is required so bearer
// tokens are enforced.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be \"development\", \"staging\", or \"production\", got %q", c.Env)
	}
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.ProvenanceBuffer < 1 {
		return fmt.Errorf("PROVENANCE_BUFFER must be positive, got %d", c.ProvenanceBuffer)
	}
	return nil
}
