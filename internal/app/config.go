package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret    string `usage:"HS256 secret verifying buyer tokens" flag:"jwt-secret"`
	APIKeyPepper string `usage:"HMAC pepper for operator API key hashing" flag:"api-key-pepper"`
	Cart         CartConfig
	Session      SessionConfig
	Notify       NotifyConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// CartConfig selects the cart store backend.
type CartConfig struct {
	Backend   string        `default:"memory" usage:"Cart store backend: memory or redis"`
	RedisAddr string        `default:"localhost:6379" usage:"Redis address for the redis backend" flag:"cart-redis-addr"`
	TTL       time.Duration `default:"168h" usage:"Idle lifetime of a redis cart"`
}

// SessionConfig controls the cart session cookie.
type SessionConfig struct {
	CookieName string        `default:"cart_session" usage:"Session cookie name" flag:"session-cookie"`
	Secure     bool          `default:"false" usage:"Mark the session cookie Secure" flag:"session-secure"`
	MaxAge     time.Duration `default:"0s" usage:"Session cookie lifetime, 0 for a browser session" flag:"session-max-age"`
}

// NotifyConfig configures the order notification channels. A channel
// without a destination is disabled.
type NotifyConfig struct {
	Timeout time.Duration `default:"10s" usage:"Upper bound for one order's notifications"`
	Email   EmailConfig
	Chat    ChatConfig
	Events  EventsConfig
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Host     string   `usage:"SMTP host" flag:"smtp-host"`
	Port     int      `default:"587" usage:"SMTP port" flag:"smtp-port"`
	Username string   `usage:"SMTP username" flag:"smtp-username"`
	Password string   `usage:"SMTP password" flag:"smtp-password"`
	From     string   `usage:"Sender address" flag:"email-from"`
	To       []string `usage:"Recipient addresses" flag:"email-to"`
}

// ChatConfig configures the Telegram notifier.
type ChatConfig struct {
	Token  string `usage:"Bot token" flag:"chat-token"`
	ChatID string `usage:"Destination chat id" flag:"chat-id"`
	APIURL string `default:"https://api.telegram.org" usage:"Bot API base URL" flag:"chat-api-url"`
}

// EventsConfig configures the Kafka order event publisher.
type EventsConfig struct {
	Brokers string `usage:"Comma-separated Kafka brokers" flag:"events-brokers"`
	Topic   string `default:"orders" usage:"Topic for order events" flag:"events-topic"`
}

// OrdersConfig tunes checkout.
type OrdersConfig struct {
	KeyFilterCapacity uint    `default:"100000" usage:"Idempotency keys the in-process filter is sized for" flag:"key-filter-capacity"`
	KeyFilterFPR      float64 `default:"0.001" usage:"Target false positive rate of the idempotency key filter" flag:"key-filter-fpr"`
}

// RateLimitConfig controls the per-client token bucket limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"30" usage:"Burst size per client"`
	// TrustedProxies lists CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers identify the client.
	TrustedProxies []string `usage:"Reverse proxies trusted for forwarding headers" flag:"trusted-proxies"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	case c.JWTSecret == "":
		return errors.New("jwt secret is required: set MARKET_JWT_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set MARKET_API_KEY_PEPPER")
	case c.Cart.Backend != "memory" && c.Cart.Backend != "redis":
		return errors.Errorf("unknown cart backend %q", c.Cart.Backend)
	case c.Orders.KeyFilterCapacity == 0:
		return errors.New("key filter capacity must be positive")
	case c.Orders.KeyFilterFPR <= 0 || c.Orders.KeyFilterFPR >= 1:
		return errors.Errorf("key filter false positive rate %v out of (0, 1)", c.Orders.KeyFilterFPR)
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the MARKET_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
