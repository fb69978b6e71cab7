package bitstamp

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
	Name           = "bitstamp"
	DefaultBaseURL = "https://www.bitstamp.net"
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
		symbols: market.NewSymbolMap(market.SymbolFormat{Lower: true}),
	}
	if err := c.SetCredentials(opts.Credentials); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) SetCredentials(creds core.Credentials) error {
	creds = signing.NormalizeCredentials(creds)
	if (creds.APIKey == "") != (creds.APISecret == "") {
		return fmt.Errorf("%w: bitstamp needs both api_key and api_secret", core.ErrMissingCredentials)
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

func (c *Client) public(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	body, err := c.deps.HTTP.Fetch(ctx, endpoint)
	if err != nil {
		return err
	}
	return decode(path, body, out)
}

// private POSTs a form signed over nonce + body + key.
func (c *Client) private(ctx context.Context, path string, params url.Values, out any) error {
	apiKey, apiSecret := c.credentials()
	if apiKey == "" {
		return fmt.Errorf("%w: bitstamp %s", core.ErrMissingCredentials, path)
	}
	encoded := params.Encode()
	body, err := c.deps.HTTP.Call(ctx, true, func(ctx context.Context) (*http.Request, error) {
		nonce := c.deps.Nonce.NextString(c.deps.Now())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Auth", "BITSTAMP "+apiKey)
		req.Header.Set("X-Auth-Nonce", nonce)
		req.Header.Set("X-Auth-Signature", signing.NonceBodyKey(apiSecret, nonce, encoded, apiKey))
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(path, body, out)
}

// decode surfaces error bodies delivered with a 2xx before decoding out.
func decode(path string, body []byte, out any) error {
	var probe struct {
		Status string          `json:"status"`
		Reason json.RawMessage `json:"reason"`
		Error  json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil {
		if strings.EqualFold(probe.Status, "error") {
			return &APIError{Endpoint: path, Message: reasonText(probe.Reason)}
		}
		if msg := reasonText(probe.Error); msg != "" {
			return &APIError{Endpoint: path, Message: msg}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.NewProtocolError(Name, path, body, err)
	}
	return nil
}
