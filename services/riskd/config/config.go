package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendcore/crypto"
)

const (
	defaultListen       = ":8547"
	defaultPollInterval = 2 * time.Second
	defaultNodeTimeout  = 10 * time.Second
	defaultEffectBuffer = 1024
)

// Config captures the runtime settings for the risk daemon.
type Config struct {
	ListenAddress     string        `yaml:"listen"`
	DataDir           string        `yaml:"data_dir"`
	GenesisPath       string        `yaml:"genesis"`
	Comptroller       string        `yaml:"comptroller"`
	Node              NodeConfig    `yaml:"node"`
	TLS               TLSConfig     `yaml:"tls"`
	Auth              AuthConfig    `yaml:"auth"`
	RateLimit         RateLimit     `yaml:"rate_limit"`
	Effects           EffectsConfig `yaml:"effects"`
	Webhook           WebhookConfig `yaml:"webhook"`
	Pauses            []string      `yaml:"pauses"`
	BlockPollInterval time.Duration `yaml:"block_poll_interval"`
}

// NodeConfig points at the node JSON-RPC endpoint serving market, oracle and
// reward token state.
type NodeConfig struct {
	URL                string        `yaml:"url"`
	BearerToken        string        `yaml:"bearer_token"`
	SharedSecretHeader string        `yaml:"shared_secret_header"`
	SharedSecretValue  string        `yaml:"shared_secret_value"`
	TLSClientCA        string        `yaml:"tls_client_ca"`
	AllowInsecure      bool          `yaml:"allow_insecure"`
	Timeout            time.Duration `yaml:"timeout"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// EffectsConfig configures the effect store. An empty DSN disables it.
type EffectsConfig struct {
	DSN    string `yaml:"dsn"`
	Buffer int    `yaml:"buffer"`
}

// WebhookConfig configures outbound effect delivery. An empty URL disables it.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Topics []string `yaml:"topics"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:     defaultListen,
		BlockPollInterval: defaultPollInterval,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ComptrollerAddress decodes the configured comptroller address.
func (cfg Config) ComptrollerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(cfg.Comptroller)
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.Comptroller = strings.TrimSpace(cfg.Comptroller)
	if cfg.BlockPollInterval <= 0 {
		cfg.BlockPollInterval = defaultPollInterval
	}
	cfg.Node.normalize()
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Effects.normalize()
	cfg.Webhook.normalize()
	cfg.Pauses = trimAll(cfg.Pauses)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Comptroller == "" {
		return fmt.Errorf("comptroller address is required")
	}
	addr, err := crypto.DecodeAddress(cfg.Comptroller)
	if err != nil {
		return fmt.Errorf("comptroller: %w", err)
	}
	if addr.Prefix() != crypto.MarketPrefix {
		return fmt.Errorf("comptroller must use the %s prefix", crypto.MarketPrefix)
	}
	if err := cfg.Node.validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if err := cfg.Webhook.validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (cfg *NodeConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.BearerToken = strings.TrimSpace(cfg.BearerToken)
	cfg.SharedSecretHeader = strings.TrimSpace(cfg.SharedSecretHeader)
	cfg.SharedSecretValue = strings.TrimSpace(cfg.SharedSecretValue)
	cfg.TLSClientCA = strings.TrimSpace(cfg.TLSClientCA)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNodeTimeout
	}
}

func (cfg NodeConfig) validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	if (cfg.SharedSecretHeader == "") != (cfg.SharedSecretValue == "") {
		return fmt.Errorf("shared_secret_header and shared_secret_value must be set together")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
}

func (cfg AuthConfig) validate() error {
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 bytes")
	}
	return nil
}

func (cfg *EffectsConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultEffectBuffer
	}
}

func (cfg *WebhookConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.Topics = trimAll(cfg.Topics)
}

func (cfg WebhookConfig) validate() error {
	if cfg.URL != "" && cfg.Secret == "" {
		return fmt.Errorf("secret is required when url is set")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
