// Package config centralises runtime configuration for the Bybit connectivity core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the exchange environment a session targets.
type Environment string

const (
	// EnvMainnet targets the production exchange.
	EnvMainnet Environment = "mainnet"
	// EnvTestnet targets the exchange testnet.
	EnvTestnet Environment = "testnet"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// WebsocketSettings configures stream endpoints and pacing.
type WebsocketSettings struct {
	PublicURL        string        `yaml:"publicUrl"`
	PrivateURL       string        `yaml:"privateUrl"`
	KeepaliveEvery   time.Duration `yaml:"keepaliveEvery"`
	ControlRate      float64       `yaml:"controlRate"`
	MaxArgsPerConn   int           `yaml:"maxArgsPerConn"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	AuthWindow       time.Duration `yaml:"authWindow"`
}

// RESTSettings configures the signed HTTP surface.
type RESTSettings struct {
	BaseURL     string        `yaml:"baseUrl"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	RecvWindow  time.Duration `yaml:"recvWindow"`
	// RequestsPerSecond defaults below the lowest published tier so a fresh
	// key never trips the exchange limiter.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// Settings contains the full configuration tree.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Credentials Credentials       `yaml:"credentials"`
	REST        RESTSettings      `yaml:"rest"`
	Websocket   WebsocketSettings `yaml:"websocket"`
}

// Default returns the mainnet configuration with conservative pacing.
func Default() Settings {
	return Settings{
		Environment: EnvMainnet,
		Credentials: Credentials{},
		REST: RESTSettings{
			BaseURL:           "https://api.bybit.com",
			HTTPTimeout:       10 * time.Second,
			RecvWindow:        5 * time.Second,
			RequestsPerSecond: 10,
			Burst:             1,
		},
		Websocket: WebsocketSettings{
			PublicURL:        "wss://stream.bybit.com/v5/public",
			PrivateURL:       "wss://stream.bybit.com/v5/private",
			KeepaliveEvery:   20 * time.Second,
			ControlRate:      3,
			MaxArgsPerConn:   10,
			HandshakeTimeout: 10 * time.Second,
			AuthWindow:       10 * time.Second,
		},
	}
}

// FromEnv loads configuration from environment variables over the defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("BYBIT_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
		if cfg.Environment == EnvTestnet {
			cfg.REST.BaseURL = "https://api-testnet.bybit.com"
			cfg.Websocket.PublicURL = "wss://stream-testnet.bybit.com/v5/public"
			cfg.Websocket.PrivateURL = "wss://stream-testnet.bybit.com/v5/private"
		}
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_API_KEY")); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_API_SECRET")); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_REST_BASE_URL")); v != "" {
		cfg.REST.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_WS_PUBLIC_URL")); v != "" {
		cfg.Websocket.PublicURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_WS_PRIVATE_URL")); v != "" {
		cfg.Websocket.PrivateURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_HTTP_TIMEOUT")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.REST.HTTPTimeout = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_REST_RATE")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.REST.RequestsPerSecond = parsed
		}
	}
	return cfg
}

// Load reads a YAML configuration file layered over the defaults.
func Load(path string) (Settings, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot operate with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.REST.BaseURL) == "" {
		return fmt.Errorf("config: rest.baseUrl required")
	}
	if s.REST.RequestsPerSecond <= 0 {
		return fmt.Errorf("config: rest.requestsPerSecond must be positive")
	}
	if strings.TrimSpace(s.Websocket.PublicURL) == "" {
		return fmt.Errorf("config: websocket.publicUrl required")
	}
	if s.Websocket.MaxArgsPerConn <= 0 {
		return fmt.Errorf("config: websocket.maxArgsPerConn must be positive")
	}
	if s.Websocket.KeepaliveEvery <= 0 {
		return fmt.Errorf("config: websocket.keepaliveEvery must be positive")
	}
	return nil
}
