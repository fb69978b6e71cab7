package binance

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/signing"
)

const (
	Name           = "binance"
	DefaultBaseURL = "https://api.binance.com"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

type Client struct {
	baseURL    string
	recvWindow time.Duration
	deps       market.Deps
	symbols    *market.SymbolMap

	mu        sync.RWMutex
	apiKey    string
	apiSecret string
	edKey     ed25519.PrivateKey
}

type Options struct {
	BaseURL     string
	Credentials core.Credentials
	RecvWindow  time.Duration
	market.Deps
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		recvWindow: opts.RecvWindow,
		deps:       opts.Deps.WithDefaults(Name),
		symbols:    market.NewSymbolMap(market.SymbolFormat{}),
	}
	if err := c.SetCredentials(opts.Credentials); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// SetCredentials installs an API key with either an HMAC secret or an
// Ed25519 private key. Empty credentials switch the client to public calls.
func (c *Client) SetCredentials(creds core.Credentials) error {
	creds = signing.NormalizeCredentials(creds)
	var edKey ed25519.PrivateKey
	if creds.PrivateKey != "" && signing.IsEd25519PEM(creds.PrivateKey) {
		key, err := signing.ParseEd25519PrivateKey(creds.PrivateKey)
		if err != nil {
			return err
		}
		edKey = key
	}
	if creds.APIKey == "" && creds.APISecret != "" {
		return fmt.Errorf("%w: binance api_key required with api_secret", core.ErrMissingCredentials)
	}
	if creds.APIKey != "" && creds.APISecret == "" && edKey == nil {
		return fmt.Errorf("%w: binance api_secret required with api_key", core.ErrMissingCredentials)
	}
	c.mu.Lock()
	c.apiKey = creds.APIKey
	c.apiSecret = creds.APISecret
	c.edKey = edKey
	c.mu.Unlock()
	return nil
}

func (c *Client) hasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	c.mu.RLock()
	apiKey, apiSecret, edKey := c.apiKey, c.apiSecret, c.edKey
	c.mu.RUnlock()
	if auth != AuthNone && apiKey == "" {
		return nil, fmt.Errorf("%w: binance %s %s", core.ErrMissingCredentials, method, path)
	}

	body, err := c.deps.HTTP.Call(ctx, auth == AuthSigned, func(ctx context.Context) (*http.Request, error) {
		attempt := cloneValues(params)
		var query string
		switch {
		case auth != AuthSigned:
			query = attempt.Encode()
		case edKey != nil:
			query = signing.SignQueryEd25519(edKey, attempt, c.deps.Now(), c.recvWindow)
		default:
			query = signing.SignQuery(apiSecret, attempt, c.deps.Now(), c.recvWindow)
		}
		endpoint := c.baseURL + path
		var reqBody io.Reader
		if method == http.MethodPost && auth == AuthSigned {
			reqBody = strings.NewReader(query)
		} else if query != "" {
			endpoint += "?" + query
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, err
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if auth != AuthNone {
			req.Header.Set("X-MBX-APIKEY", apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, parseHTTPError(err)
	}
	return body, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
