package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string            `yaml:"port"`
	Environment    string            `yaml:"environment"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	JWTSecret      string            `yaml:"jwt_secret"`
	LogLevel       string            `yaml:"log_level"`
	Redis          RedisConfig       `yaml:"redis"`
	Matchmaking    MatchmakingConfig `yaml:"matchmaking"`
	Friends        FriendsConfig     `yaml:"friends"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MatchmakingConfig tunes the queue, the relay and the idle reaper
type MatchmakingConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	MaxChatLength int           `yaml:"max_chat_length"`
}

// FriendsConfig selects the friendship backend and per-user caps
type FriendsConfig struct {
	// Backend is "redis" or "memory".
	Backend      string `yaml:"backend"`
	Limit        int    `yaml:"limit"`
	PremiumLimit int    `yaml:"premium_limit"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		JWTSecret:      "change-me-in-production",
		LogLevel:       "info",
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Matchmaking: MatchmakingConfig{
			IdleTimeout:   5 * time.Minute,
			ReapInterval:  60 * time.Second,
			MaxChatLength: 1000,
		},
		Friends: FriendsConfig{
			Backend:      "redis",
			Limit:        50,
			PremiumLimit: 500,
		},
	}
}

// Load builds the server configuration. Values come from Default, then
// the YAML file named by CONFIG_FILE if set, then the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() error {
	// Parse allowed origins (comma-separated)
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		c.AllowedOrigins = splitList(originsStr)
	}

	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Friends.Backend = getEnv("FRIENDS_BACKEND", c.Friends.Backend)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(getEnvInt("REDIS_DB", &c.Redis.DB))
	collect(getEnvDuration("IDLE_TIMEOUT", &c.Matchmaking.IdleTimeout))
	collect(getEnvDuration("REAP_INTERVAL", &c.Matchmaking.ReapInterval))
	collect(getEnvInt("MAX_CHAT_LENGTH", &c.Matchmaking.MaxChatLength))
	collect(getEnvInt("FRIEND_LIMIT", &c.Friends.Limit))
	collect(getEnvInt("PREMIUM_FRIEND_LIMIT", &c.Friends.PremiumLimit))
	return errors.Join(errs...)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.Matchmaking.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be positive"))
	}
	if c.Matchmaking.ReapInterval <= 0 {
		errs = append(errs, errors.New("reap_interval must be positive"))
	}
	if c.Matchmaking.MaxChatLength <= 0 {
		errs = append(errs, errors.New("max_chat_length must be positive"))
	}
	switch c.Friends.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown friends backend %q", c.Friends.Backend))
	}
	return errors.Join(errs...)
}

// Addr returns host:port for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnvDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
