package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/signing"
	"spot-connect/internal/transport"
)

const (
	Name           = "okx"
	DefaultBaseURL = "https://www.okx.com"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

type Client struct {
	baseURL string
	// simulated routes requests to the demo trading environment.
	simulated bool
	deps      market.Deps
	symbols   *market.SymbolMap

	mu         sync.RWMutex
	apiKey     string
	apiSecret  string
	passphrase string
}

type Options struct {
	BaseURL     string
	Credentials core.Credentials
	Simulated   bool
	market.Deps
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		simulated: opts.Simulated,
		deps:      opts.Deps.WithDefaults(Name),
		symbols:   market.NewSymbolMap(market.SymbolFormat{Separator: "-"}),
	}
	if err := c.SetCredentials(opts.Credentials); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// SetCredentials requires key, secret and passphrase together, or none.
func (c *Client) SetCredentials(creds core.Credentials) error {
	creds = signing.NormalizeCredentials(creds)
	set := 0
	for _, v := range []string{creds.APIKey, creds.APISecret, creds.Passphrase} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("%w: okx needs api_key, api_secret and passphrase", core.ErrMissingCredentials)
	}
	c.mu.Lock()
	c.apiKey, c.apiSecret, c.passphrase = creds.APIKey, creds.APISecret, creds.Passphrase
	c.mu.Unlock()
	return nil
}

func (c *Client) hasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// do sends one v5 request and returns the envelope's data. A non-zero code
// comes back as *APIError, carrying the first row's sCode when present.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, private bool) (json.RawMessage, error) {
	c.mu.RLock()
	apiKey, apiSecret, passphrase := c.apiKey, c.apiSecret, c.passphrase
	c.mu.RUnlock()
	if private && apiKey == "" {
		return nil, fmt.Errorf("%w: okx %s %s", core.ErrMissingCredentials, method, path)
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	raw, err := c.deps.HTTP.Call(ctx, private, func(ctx context.Context) (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.simulated {
			req.Header.Set("x-simulated-trading", "1")
		}
		if private {
			ts := c.deps.Now().UTC().Format(timestampLayout)
			req.Header.Set("OK-ACCESS-KEY", apiKey)
			req.Header.Set("OK-ACCESS-PASSPHRASE", passphrase)
			req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
			req.Header.Set("OK-ACCESS-SIGN", signing.Base64SHA256(apiSecret, signing.Prehash(ts, method, requestPath, string(body))))
		}
		return req, nil
	})
	if err != nil {
		return nil, parseHTTPError(path, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.NewProtocolError(Name, path, raw, err)
	}
	if env.Code != codeOK {
		return nil, envelopeError(path, env)
	}
	return env.Data, nil
}

func envelopeError(path string, env envelope) *APIError {
	apiErr := &APIError{Endpoint: path, Code: env.Code, Msg: env.Msg}
	var rows []ackRow
	if json.Unmarshal(env.Data, &rows) == nil {
		for _, r := range rows {
			if r.SCode != "" && r.SCode != codeOK {
				apiErr.Code, apiErr.Msg = r.SCode, r.SMsg
				break
			}
		}
	}
	return apiErr
}

// parseHTTPError joins the envelope of a failed response onto the
// transport error.
func parseHTTPError(path string, err error) error {
	var rf *transport.RequestFailed
	if !errors.As(err, &rf) {
		return err
	}
	var env envelope
	if json.Unmarshal([]byte(rf.Body), &env) != nil || env.Code == "" || env.Code == codeOK {
		return err
	}
	return errors.Join(err, envelopeError(path, env))
}

func decode(path string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewProtocolError(Name, path, data, err)
	}
	return nil
}
