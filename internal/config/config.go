package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the binaries need to assemble the payment core.
type Config struct {
	Gateway    GatewayConfig
	Breaker    BreakerConfig
	Cache      CacheConfig
	Webhook    WebhookConfig
	AWS        AWSConfig
	SessionTTL time.Duration
	LogLevel   string
	HTTPAddr   string
	RunLocal   bool
}

type GatewayConfig struct {
	BaseURL          string
	AccessToken      string
	EntityID         string
	UserAgent        string
	Timeout          time.Duration
	MaxRetries       int
	MaxRequestBytes  int64
	MaxResponseBytes int64
	RateLimitRPS     float64
	RateLimitBurst   int
	TestMode         string
}

type BreakerConfig struct {
	Threshold    int
	ResetTimeout time.Duration
}

type CacheConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

type WebhookConfig struct {
	Mode         string // gcm | cbc | none
	KeyHex       string
	Secret       string
	MaxBodyBytes int64
	ClaimLease   time.Duration
}

type AWSConfig struct {
	PaymentsTable          string
	IdempotencyTable       string
	EntitlementQueueURL    string
	ReconciliationQueueURL string
	MetricsNamespace       string
}

func defaults(v *viper.Viper) {
	v.SetDefault("GATEWAY_BASE_URL", "https://eu-test.oppwa.com")
	v.SetDefault("GATEWAY_USER_AGENT", "go-cardpay-gateway/1.0")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_MAX_RETRIES", 3)
	v.SetDefault("GATEWAY_MAX_REQUEST_BYTES", 64*1024)
	v.SetDefault("GATEWAY_MAX_RESPONSE_BYTES", 1024*1024)
	v.SetDefault("GATEWAY_RATE_LIMIT_RPS", 0)
	v.SetDefault("GATEWAY_RATE_LIMIT_BURST", 10)
	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_RESET_TIMEOUT", "60s")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("CACHE_MAX_ENTRIES", 256)
	v.SetDefault("WEBHOOK_MODE", "gcm")
	v.SetDefault("WEBHOOK_MAX_BODY_BYTES", 256*1024)
	v.SetDefault("WEBHOOK_CLAIM_LEASE", "2m")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PAYMENTS_TABLE", "payments")
	v.SetDefault("IDEMPOTENCY_TABLE", "idempotency")
	v.SetDefault("METRICS_NAMESPACE", "CardPayGateway")
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Gateway: GatewayConfig{
			BaseURL:          strings.TrimRight(v.GetString("GATEWAY_BASE_URL"), "/"),
			AccessToken:      v.GetString("GATEWAY_ACCESS_TOKEN"),
			EntityID:         v.GetString("GATEWAY_ENTITY_ID"),
			UserAgent:        v.GetString("GATEWAY_USER_AGENT"),
			Timeout:          v.GetDuration("GATEWAY_TIMEOUT"),
			MaxRetries:       v.GetInt("GATEWAY_MAX_RETRIES"),
			MaxRequestBytes:  v.GetInt64("GATEWAY_MAX_REQUEST_BYTES"),
			MaxResponseBytes: v.GetInt64("GATEWAY_MAX_RESPONSE_BYTES"),
			RateLimitRPS:     v.GetFloat64("GATEWAY_RATE_LIMIT_RPS"),
			RateLimitBurst:   v.GetInt("GATEWAY_RATE_LIMIT_BURST"),
			TestMode:         v.GetString("GATEWAY_TEST_MODE"),
		},
		Breaker: BreakerConfig{
			Threshold:    v.GetInt("BREAKER_THRESHOLD"),
			ResetTimeout: v.GetDuration("BREAKER_RESET_TIMEOUT"),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			TTL:        v.GetDuration("CACHE_TTL"),
			MaxEntries: v.GetInt("CACHE_MAX_ENTRIES"),
		},
		Webhook: WebhookConfig{
			Mode:         strings.ToLower(v.GetString("WEBHOOK_MODE")),
			KeyHex:       v.GetString("WEBHOOK_KEY"),
			Secret:       v.GetString("WEBHOOK_SECRET"),
			MaxBodyBytes: v.GetInt64("WEBHOOK_MAX_BODY_BYTES"),
			ClaimLease:   v.GetDuration("WEBHOOK_CLAIM_LEASE"),
		},
		AWS: AWSConfig{
			PaymentsTable:          v.GetString("PAYMENTS_TABLE"),
			IdempotencyTable:       v.GetString("IDEMPOTENCY_TABLE"),
			EntitlementQueueURL:    v.GetString("ENTITLEMENT_QUEUE_URL"),
			ReconciliationQueueURL: v.GetString("RECONCILIATION_QUEUE_URL"),
			MetricsNamespace:       v.GetString("METRICS_NAMESPACE"),
		},
		SessionTTL: v.GetDuration("SESSION_TTL"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		HTTPAddr:   v.GetString("HTTP_ADDR"),
		RunLocal:   v.GetBool("RUN_LOCAL"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges the transport and webhook layers rely on.
func (c *Config) Validate() error {
	if c.Gateway.MaxRetries < 1 || c.Gateway.MaxRetries > 5 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must be between 1 and 5, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be >= 1")
	}
	switch c.Webhook.Mode {
	case "gcm", "cbc", "none":
	default:
		return fmt.Errorf("WEBHOOK_MODE must be gcm, cbc or none, got %q", c.Webhook.Mode)
	}
	return nil
}
