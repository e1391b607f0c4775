package config

import (
	"strings"
	"time"
)

// Config represents the complete ig-relay configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	App     AppConfig     `yaml:"app"`
	Relay   RelayConfig   `yaml:"relay"`
	Store   StoreConfig   `yaml:"store"`
	Reply   ReplyConfig   `yaml:"reply"`
	CORS    CORSConfig    `yaml:"cors"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Production reports whether the service runs with production semantics.
// Signature bypass on verification failure is only allowed outside production.
func (s ServiceConfig) Production() bool {
	return strings.EqualFold(s.Env, "production")
}

// AppConfig holds the Meta app registration used for webhook verification
// and the OAuth code exchange.
type AppConfig struct {
	ID              string `yaml:"id"`
	Secret          string `yaml:"secret"`
	VerifyToken     string `yaml:"verify_token"`
	RedirectURI     string `yaml:"redirect_uri"`
	GraphAPIVersion string `yaml:"graph_api_version"`

	// Timeout bounds each Graph API call.
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig defines the downstream aggregator sink.
type RelayConfig struct {
	// CoreURL is the aggregator base URL. Empty disables relaying.
	CoreURL string `yaml:"core_url"`

	// Secret, when set, enables HMAC-SHA256 signing of relayed envelopes.
	Secret string `yaml:"secret"`

	// ForwardAll relays read/delivery events in addition to messages.
	ForwardAll bool `yaml:"forward_all"`

	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig defines credential storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReplyConfig controls the echo reply sent back to message senders.
type ReplyConfig struct {
	Echo bool `yaml:"echo"`
}

// CORSConfig defines allowed cross-origin request sources.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// LimitsConfig defines request limits.
type LimitsConfig struct {
	// MaxBodySize is the maximum accepted webhook body size in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`
}

// DefaultMaxBodySize caps webhook payloads at 1 MiB.
const DefaultMaxBodySize = 1 << 20

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "ig-relay",
			Env:       "development",
			Listen:    "127.0.0.1:8080",
			LogLevel:  "info",
			LogFormat: "json",
		},
		App: AppConfig{
			RedirectURI:     "http://localhost:8080/auth/instagram/callback",
			GraphAPIVersion: "v19.0",
			Timeout:         20 * time.Second,
		},
		Relay: RelayConfig{
			Timeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "./data/credentials.db",
		},
		Reply: ReplyConfig{
			Echo: true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		Limits: LimitsConfig{
			MaxBodySize: DefaultMaxBodySize,
		},
	}
}
