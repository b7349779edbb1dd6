package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config configures the server process.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TickInterval       time.Duration `env:"TICK_INTERVAL" default:"2500ms"`
	InitialActiveUsers int           `env:"INITIAL_ACTIVE_USERS" default:"5"`

	// "*" reflects any origin. Development posture, not a security control.
	CORSOrigins []string `env:"CORS_ORIGINS" default:"*"`

	BTCPriceURL    string        `env:"BTC_PRICE_URL" default:"https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"`
	FranceInfoURL  string        `env:"FRANCE_INFO_URL" default:"https://restcountries.com/v3.1/alpha/fr"`
	EURUSDURL      string        `env:"EURUSD_URL" default:"https://api.frankfurter.app/latest?base=EUR&symbols=USD"`
	ProxyTimeout   time.Duration `env:"PROXY_TIMEOUT" default:"10s"`
	ProxyCacheTTL  time.Duration `env:"PROXY_CACHE_TTL" default:"5s"`
	ProxyRateLimit float64       `env:"PROXY_RATE_LIMIT" default:"5"`
	ProxyRateBurst int           `env:"PROXY_RATE_BURST" default:"10"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// ViewerConfig configures the console viewer.
type ViewerConfig struct {
	ServerURL        string        `env:"SERVER_URL" default:"http://localhost:8080"`
	LogLevel         string        `env:"LOG_LEVEL" default:"info"`
	LogFormat        string        `env:"LOG_FORMAT" default:"text"`
	ViewCapacity     int           `env:"VIEW_CAPACITY" default:"200"`
	ReconnectInitial time.Duration `env:"RECONNECT_INITIAL" default:"500ms"`
	ReconnectMax     time.Duration `env:"RECONNECT_MAX" default:"30s"`
	BTCRefresh       time.Duration `env:"BTC_REFRESH" default:"30s"`
	EURUSDRefresh    time.Duration `env:"EURUSD_REFRESH" default:"60s"`
	FranceRefresh    time.Duration `env:"FRANCE_REFRESH" default:"24h"`
}

func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadViewer() (*ViewerConfig, error) {
	loadDotEnv()

	var cfg ViewerConfig
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validateViewer(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("TICK_INTERVAL must be positive")
	}
	if cfg.InitialActiveUsers < 1 {
		return errors.New("INITIAL_ACTIVE_USERS must be at least 1")
	}
	if len(cfg.CORSOrigins) == 0 {
		return errors.New("CORS_ORIGINS must list at least one origin or *")
	}

	upstreams := map[string]string{
		"BTC_PRICE_URL":   cfg.BTCPriceURL,
		"FRANCE_INFO_URL": cfg.FranceInfoURL,
		"EURUSD_URL":      cfg.EURUSDURL,
	}
	for name, value := range upstreams {
		if err := validateHTTPURL(value); err != nil {
			return fmt.Errorf("%s %w", name, err)
		}
	}

	if cfg.ProxyTimeout <= 0 {
		return errors.New("PROXY_TIMEOUT must be positive")
	}
	if cfg.ProxyCacheTTL < 0 {
		return errors.New("PROXY_CACHE_TTL must not be negative")
	}
	if cfg.ProxyRateLimit <= 0 || cfg.ProxyRateBurst < 1 {
		return errors.New("PROXY_RATE_LIMIT and PROXY_RATE_BURST must be positive")
	}

	return nil
}

func validateViewer(cfg *ViewerConfig) error {
	if err := validateHTTPURL(cfg.ServerURL); err != nil {
		return fmt.Errorf("SERVER_URL %w", err)
	}
	if cfg.ViewCapacity < 1 {
		return errors.New("VIEW_CAPACITY must be at least 1")
	}
	if cfg.ReconnectInitial <= 0 || cfg.ReconnectMax < cfg.ReconnectInitial {
		return errors.New("RECONNECT_INITIAL must be positive and not exceed RECONNECT_MAX")
	}
	if cfg.BTCRefresh <= 0 || cfg.EURUSDRefresh <= 0 || cfg.FranceRefresh <= 0 {
		return errors.New("BTC_REFRESH, EURUSD_REFRESH and FRANCE_REFRESH must be positive")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}
