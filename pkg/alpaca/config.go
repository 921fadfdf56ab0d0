package alpaca

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tndd/datadoggo-v3-alpaca/pkg/confkit"
)

const (
	DefaultDataURL    = "https://data.alpaca.markets"
	DefaultTradingURL = "https://paper-api.alpaca.markets"

	defaultHTTPTimeout   = 30 * time.Second
	defaultPageLimit     = 1000
	defaultNewsPageLimit = 50
	maxPageLimit         = 10000
	maxNewsPageLimit     = 50
)

// Config holds provider endpoints and credentials, usually read from
// etc/alpaca.yaml. String fields support ${VAR} expansion.
type Config struct {
	DataURL    string `yaml:"data_url"`
	TradingURL string `yaml:"trading_url"`
	KeyID      string `yaml:"key_id"`
	SecretKey  string `yaml:"secret_key"`

	// Feed selects the stock data feed (iex, sip). Empty uses the account default.
	Feed       string `yaml:"feed"`
	Adjustment string `yaml:"adjustment"`
	CryptoLoc  string `yaml:"crypto_loc"`
	UserAgent  string `yaml:"user_agent"`

	PageLimit     int `yaml:"page_limit"`
	NewsPageLimit int `yaml:"news_page_limit"`

	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`
}

// LoadConfig reads provider configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alpaca config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes, normalises and validates configuration.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read alpaca config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal alpaca config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is given:
// endpoints from ALPACA_DATA_BASE_URL / ALPACA_TRADING_BASE_URL and keys from
// ALPACA_API_KEY / ALPACA_SECRET_KEY.
func DefaultConfig() (*Config, error) {
	confkit.LoadDotenvOnce()
	cfg := Config{
		DataURL:    "${ALPACA_DATA_BASE_URL}",
		TradingURL: "${ALPACA_TRADING_BASE_URL}",
		KeyID:      "${ALPACA_API_KEY}",
		SecretKey:  "${ALPACA_SECRET_KEY}",
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	c.DataURL = confkit.Expand(c.DataURL)
	c.TradingURL = confkit.Expand(c.TradingURL)
	c.KeyID = confkit.Expand(c.KeyID)
	c.SecretKey = confkit.Expand(c.SecretKey)
	c.Feed = confkit.Expand(c.Feed)
	c.Adjustment = confkit.Expand(c.Adjustment)
	c.CryptoLoc = confkit.Expand(c.CryptoLoc)
	c.UserAgent = confkit.Expand(c.UserAgent)
	c.HTTPTimeoutRaw = confkit.Expand(c.HTTPTimeoutRaw)

	if c.DataURL == "" {
		c.DataURL = DefaultDataURL
	}
	if c.TradingURL == "" {
		c.TradingURL = DefaultTradingURL
	}
	if c.CryptoLoc == "" {
		c.CryptoLoc = "us"
	}
	if c.Adjustment == "" {
		c.Adjustment = "raw"
	}
	if c.PageLimit == 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.NewsPageLimit == 0 {
		c.NewsPageLimit = defaultNewsPageLimit
	}
	c.HTTPTimeout = defaultHTTPTimeout
	if c.HTTPTimeoutRaw != "" {
		d, err := time.ParseDuration(c.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("alpaca: invalid http_timeout %q: %w", c.HTTPTimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("alpaca: http_timeout must be positive, got %s", d)
		}
		c.HTTPTimeout = d
	}
	return nil
}

// Validate checks structural soundness. Missing credentials are allowed here
// and reported by HasCredentials, so dry runs work without keys.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"data_url": c.DataURL, "trading_url": c.TradingURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("alpaca: %s must be an absolute url, got %q", name, raw)
		}
	}
	if c.PageLimit < 1 || c.PageLimit > maxPageLimit {
		return fmt.Errorf("alpaca: page_limit must be within 1..%d, got %d", maxPageLimit, c.PageLimit)
	}
	if c.NewsPageLimit < 1 || c.NewsPageLimit > maxNewsPageLimit {
		return fmt.Errorf("alpaca: news_page_limit must be within 1..%d, got %d", maxNewsPageLimit, c.NewsPageLimit)
	}
	if (c.KeyID == "") != (c.SecretKey == "") {
		return errors.New("alpaca: key_id and secret_key must be set together")
	}
	return nil
}

// HasCredentials reports whether API keys are configured.
func (c *Config) HasCredentials() bool {
	return c != nil && c.KeyID != "" && c.SecretKey != ""
}
