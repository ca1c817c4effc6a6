package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	Environment      string // "production", "development" or "preview"
	MaxBodyBytes     int64
	RouteTimeout     time.Duration
	IdleTimeout      time.Duration
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	APIKeyHeader string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
}

type SessionConfig struct {
	IdleTTL time.Duration
}

func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8585)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	bodyMB, err := getEnvInt("MAX_BODY_MB", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_BODY_MB: %w", err)
	}

	rps, err := getEnvInt("RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	routeTimeout, err := getEnvDuration("ROUTE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ROUTE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getEnvDuration("SOCKET_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SOCKET_TIMEOUT: %w", err)
	}

	sessionTTL, err := getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_IDLE_TTL: %w", err)
	}

	env := getEnv("VERCEL_ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Host:             getEnv("SERVER_HOST", "0.0.0.0"),
			Port:             port,
			Environment:      env,
			MaxBodyBytes:     int64(bodyMB) << 20,
			RouteTimeout:     routeTimeout,
			IdleTimeout:      idleTimeout,
			RateLimitEnabled: getEnvBool("IS_RATE_LIMIT_ENABLED", false),
			RateLimitRPS:     float64(rps),
			RateLimitBurst:   burst,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("SUPABASE_JWT_SECRET", ""),
			APIKeyHeader: getEnv("API_KEY_HEADER", "Helicone-Authorization"),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
		},
		Session: SessionConfig{
			IdleTTL: sessionTTL,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// AuthDisabled reports whether requests may reach /v1 without credentials.
// Only development-like environments without a JWT secret run this way.
func (c *Config) AuthDisabled() bool {
	return !c.IsProduction() && c.Auth.JWTSecret == ""
}

var allowedOriginsEnv = map[string][]string{
	"production": {
		`^https?://(www\.)?helicone\.ai$`,
		`^https?://(www\.)?.*-helicone\.vercel\.app$`,
		`^https?://(www\.)?helicone\.vercel\.app$`,
		`^http://localhost:3000$`,
		`^http://localhost:3001$`,
		`^https?://(www\.)?eu\.helicone\.ai$`,
		`^https?://(www\.)?us\.helicone\.ai$`,
	},
	"development": {`^http://localhost:3000$`, `^http://localhost:3001$`},
	"preview":     {`^http://localhost:3000$`, `^http://localhost:3001$`},
}

// AllowedOrigins returns the CORS origin patterns for the configured
// environment. CORS_ALLOWED_ORIGINS (comma separated regexps) overrides them.
func (c *Config) AllowedOrigins() ([]*regexp.Regexp, error) {
	patterns := allowedOriginsEnv[c.Server.Environment]
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		patterns = strings.Split(v, ",")
	}

	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("compile origin pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
