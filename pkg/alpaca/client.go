package alpaca

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerKeyID     = "APCA-API-KEY-ID"
	headerSecretKey = "APCA-API-SECRET-KEY"

	maxBodyBytes  = 64 << 20
	maxErrorBytes = 512
)

// Host selects which Alpaca API a request targets.
type Host int

const (
	// HostData is the market-data API (bars, news).
	HostData Host = iota
	// HostTrading is the trading API (assets, option contracts).
	HostTrading
)

func (h Host) String() string {
	if h == HostTrading {
		return "trading"
	}
	return "data"
}

// Request is a single GET against one of the Alpaca hosts.
type Request struct {
	Host  Host
	Path  string
	Query url.Values
}

// PageToken returns the pagination token the request carries, if any.
func (r Request) PageToken() string {
	return r.Query.Get("page_token")
}

func (r Request) String() string {
	if len(r.Query) == 0 {
		return r.Host.String() + ":" + r.Path
	}
	return r.Host.String() + ":" + r.Path + "?" + r.Query.Encode()
}

// Client issues single-attempt requests to Alpaca and classifies failures.
// Retrying and pacing are left to the caller.
type Client struct {
	dataURL    string
	tradingURL string
	keyID      string
	secretKey  string
	userAgent  string
	httpClient *http.Client
	maxBody    int64
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxBodyBytes bounds the response size Fetch accepts.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithBaseURLs overrides both API hosts; empty values keep the current one.
func WithBaseURLs(dataURL, tradingURL string) Option {
	return func(c *Client) {
		if dataURL != "" {
			c.dataURL = strings.TrimRight(dataURL, "/")
		}
		if tradingURL != "" {
			c.tradingURL = strings.TrimRight(tradingURL, "/")
		}
	}
}

// NewClient constructs a client from cfg. A nil cfg uses public defaults and
// no credentials.
func NewClient(cfg *Config, opts ...Option) *Client {
	c := &Client{
		dataURL:    DefaultDataURL,
		tradingURL: DefaultTradingURL,
		userAgent:  "datadoggo-alpaca",
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxBody:    maxBodyBytes,
	}
	if cfg != nil {
		c.dataURL = strings.TrimRight(cfg.DataURL, "/")
		c.tradingURL = strings.TrimRight(cfg.TradingURL, "/")
		c.keyID, c.secretKey = cfg.KeyID, cfg.SecretKey
		if cfg.UserAgent != "" {
			c.userAgent = cfg.UserAgent
		}
		if cfg.HTTPTimeout > 0 {
			c.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs req once and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.keyID != "" {
		httpReq.Header.Set(headerKeyID, c.keyID)
		httpReq.Header.Set(headerSecretKey, c.secretKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: "GET " + req.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Op: "read " + req.Path, Err: err}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &BodyTooLargeError{Path: req.Path, StatusCode: resp.StatusCode, Limit: c.maxBody}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(resp, body)
}

func (c *Client) resolve(req Request) (string, error) {
	base := c.dataURL
	if req.Host == HostTrading {
		base = c.tradingURL
	}
	u, err := url.Parse(base + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("alpaca: invalid request path %q: %w", req.Path, err)
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String(), nil
}

func classify(resp *http.Response, body []byte) error {
	snippet := string(body)
	if len(snippet) > maxErrorBytes {
		snippet = snippet[:maxErrorBytes]
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		rl := &RateLimitError{Body: snippet}
		if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				rl.RetryAfter = time.Duration(secs) * time.Second
			} else if at, err := http.ParseTime(v); err == nil {
				rl.ResetAt = at
			}
		}
		if rl.RetryAfter == 0 && rl.ResetAt.IsZero() {
			if v := strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset")); v != "" {
				if unix, err := strconv.ParseInt(v, 10, 64); err == nil && unix > 0 {
					rl.ResetAt = time.Unix(unix, 0).UTC()
				}
			}
		}
		return rl
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Body: snippet}
	default:
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
}
