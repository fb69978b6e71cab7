package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/signing"
)

const (
	Name           = "kraken"
	DefaultBaseURL = "https://api.kraken.com"
)

type Client struct {
	baseURL string
	deps    market.Deps
	symbols *market.SymbolMap

	mu        sync.RWMutex
	apiKey    string
	apiSecret string
}

type Options struct {
	BaseURL     string
	Credentials core.Credentials
	market.Deps
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		deps:    opts.Deps.WithDefaults(Name),
		symbols: market.NewSymbolMap(symbolFormat),
	}
	if err := c.SetCredentials(opts.Credentials); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// SetCredentials takes the API key and its base64 private key. The secret
// is checked here so a bad paste fails before any request.
func (c *Client) SetCredentials(creds core.Credentials) error {
	creds = signing.NormalizeCredentials(creds)
	if (creds.APIKey == "") != (creds.APISecret == "") {
		return fmt.Errorf("%w: kraken needs both api_key and api_secret", core.ErrMissingCredentials)
	}
	if creds.APISecret != "" {
		if _, err := signing.PathDigest(creds.APISecret, "/", "0", ""); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.apiKey, c.apiSecret = creds.APIKey, creds.APISecret
	c.mu.Unlock()
	return nil
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey, c.apiSecret
}

func (c *Client) public(ctx context.Context, method string, params url.Values, out any) error {
	path := "/0/public/" + method
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	body, err := c.deps.HTTP.Fetch(ctx, endpoint)
	if err != nil {
		return err
	}
	return unwrap(path, body, out)
}

// private signs a form POST. Each attempt draws a fresh nonce.
func (c *Client) private(ctx context.Context, method string, params url.Values, out any) error {
	path := "/0/private/" + method
	apiKey, apiSecret := c.credentials()
	if apiKey == "" {
		return fmt.Errorf("%w: kraken %s", core.ErrMissingCredentials, method)
	}
	body, err := c.deps.HTTP.Call(ctx, true, func(ctx context.Context) (*http.Request, error) {
		form := url.Values{}
		for k, vs := range params {
			form[k] = append([]string(nil), vs...)
		}
		nonce := c.deps.Nonce.NextString(c.deps.Now())
		form.Set("nonce", nonce)
		encoded := form.Encode()
		sig, err := signing.PathDigest(apiSecret, path, nonce, encoded)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", apiKey)
		req.Header.Set("API-Sign", sig)
		return req, nil
	})
	if err != nil {
		return err
	}
	return unwrap(path, body, out)
}

func unwrap(path string, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return core.NewProtocolError(Name, path, body, err)
	}
	if len(env.Error) > 0 {
		return &APIError{Endpoint: path, Messages: env.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return core.NewProtocolError(Name, path, body, err)
	}
	return nil
}
