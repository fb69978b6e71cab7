package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/signing"
)

const (
	Name           = "coinbase"
	DefaultBaseURL = "https://api.coinbase.com"
)

// Client talks to the Advanced Trade REST API. Market data goes through the
// public /market endpoints; account calls carry an ES256 bearer token.
type Client struct {
	baseURL string
	host    string
	deps    market.Deps
	symbols *market.SymbolMap

	mu     sync.RWMutex
	signer *signing.JWTSigner
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
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("coinbase base url: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		host:    u.Host,
		deps:    opts.Deps.WithDefaults(Name),
		symbols: market.NewSymbolMap(market.SymbolFormat{Separator: "-"}),
	}
	if err := c.SetCredentials(opts.Credentials); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// SetCredentials accepts a key name and EC private key in any of the
// supported encodings, or the downloaded JSON key file in either field.
func (c *Client) SetCredentials(creds core.Credentials) error {
	creds = signing.NormalizeCredentials(creds)
	var signer *signing.JWTSigner
	switch {
	case creds.PrivateKey == "" && creds.APIKey == "":
	case creds.PrivateKey == "":
		return fmt.Errorf("%w: coinbase private key required with key name", core.ErrMissingCredentials)
	default:
		s, err := signing.NewJWTSigner(creds.KeyName, creds.PrivateKey)
		if err != nil {
			return err
		}
		signer = s
	}
	c.mu.Lock()
	c.signer = signer
	c.mu.Unlock()
	return nil
}

func (c *Client) currentSigner() *signing.JWTSigner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, private bool) ([]byte, error) {
	signer := c.currentSigner()
	if private && signer == nil {
		return nil, fmt.Errorf("%w: coinbase %s %s", core.ErrMissingCredentials, method, path)
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return c.deps.HTTP.Call(ctx, private, func(ctx context.Context) (*http.Request, error) {
		endpoint := c.baseURL + path
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if private {
			token, err := signer.Token(method, c.host, path)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	})
}

func decode(endpoint string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return core.NewProtocolError(Name, endpoint, body, err)
	}
	return nil
}
