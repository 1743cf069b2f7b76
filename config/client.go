package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client defaults
const (
	DefaultServerURL     = "http://localhost:8080"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultSearchTimeout = 30 * time.Second
)

// ClientOptions carries command-line overrides for the client
type ClientOptions struct {
	ServerURL     string
	Token         string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	SearchTimeout time.Duration
	Offline       bool
}

// ClientConfig is the resolved client configuration
type ClientConfig struct {
	ServerURL     string
	Token         string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	SearchTimeout time.Duration
	Offline       bool
}

// LoadClient resolves client configuration with the following priority:
// 1. CLI flags (passed via ClientOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:  pick(opts.ServerURL, "ROULETTE_SERVER", DefaultServerURL),
		Token:      pick(opts.Token, "ROULETTE_TOKEN", ""),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		Offline:    opts.Offline || os.Getenv("ROULETTE_OFFLINE") == "true",
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	cfg.SearchTimeout = opts.SearchTimeout
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
		if err := getEnvDuration("SEARCH_TIMEOUT", &cfg.SearchTimeout); err != nil {
			return nil, err
		}
	}

	if _, err := cfg.WebSocketURL(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WebSocketURL derives the signaling endpoint from the server URL.
func (c *ClientConfig) WebSocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", c.ServerURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal"
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *ClientConfig) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return splitList(c.STUNServer)
}

// GetTURNServers returns TURN server URLs if configured
func (c *ClientConfig) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return splitList(c.TURNServer)
}

func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	return getEnv(env, fallback)
}
