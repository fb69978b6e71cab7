package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"spot-connect/internal/transport"
)

const (
	Name              = "bybit"
	DefaultBaseURL    = "https://api.bybit.com"
	DefaultRecvWindow = 5 * time.Second
)

type Client struct {
	baseURL    string
	recvWindow time.Duration
	deps       market.Deps
	symbols    *market.SymbolMap

	mu        sync.RWMutex
	apiKey    string
	apiSecret string
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
	recvWindow := opts.RecvWindow
	if recvWindow <= 0 {
		recvWindow = DefaultRecvWindow
	}
	c := &Client{
		baseURL:    baseURL,
		recvWindow: recvWindow,
		deps:       opts.Deps.WithDefaults(Name),
		symbols:    market.NewSymbolMap(market.SymbolFormat{}),
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
		return fmt.Errorf("%w: bybit needs both api_key and api_secret", core.ErrMissingCredentials)
	}
	c.mu.Lock()
	c.apiKey, c.apiSecret = creds.APIKey, creds.APISecret
	c.mu.Unlock()
	return nil
}

func (c *Client) hasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// do returns the envelope's result. Private GETs sign the query string and
// POSTs sign the JSON body, each prefixed by timestamp, key and recv window.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, private bool) (json.RawMessage, error) {
	c.mu.RLock()
	apiKey, apiSecret := c.apiKey, c.apiSecret
	c.mu.RUnlock()
	if private && apiKey == "" {
		return nil, fmt.Errorf("%w: bybit %s %s", core.ErrMissingCredentials, method, path)
	}
	encoded := query.Encode()
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	signed := encoded
	if method != http.MethodGet {
		signed = string(body)
	}
	recvWindow := strconv.FormatInt(c.recvWindow.Milliseconds(), 10)

	raw, err := c.deps.HTTP.Call(ctx, private, func(ctx context.Context) (*http.Request, error) {
		endpoint := c.baseURL + path
		if encoded != "" {
			endpoint += "?" + encoded
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if private {
			ts := strconv.FormatInt(c.deps.Now().UnixMilli(), 10)
			req.Header.Set("X-BAPI-API-KEY", apiKey)
			req.Header.Set("X-BAPI-TIMESTAMP", ts)
			req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
			req.Header.Set("X-BAPI-SIGN", signing.HexSHA256(apiSecret, signing.Prehash(ts, apiKey, recvWindow, signed)))
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
	if env.RetCode != 0 {
		return nil, &APIError{Endpoint: path, Code: env.RetCode, Msg: env.RetMsg}
	}
	return env.Result, nil
}

func parseHTTPError(path string, err error) error {
	var rf *transport.RequestFailed
	if !errors.As(err, &rf) {
		return err
	}
	var env envelope
	if json.Unmarshal([]byte(rf.Body), &env) != nil || env.RetCode == 0 {
		return err
	}
	return errors.Join(err, &APIError{Endpoint: path, Code: env.RetCode, Msg: env.RetMsg})
}

func decode(path string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewProtocolError(Name, path, data, err)
	}
	return nil
}

func spotQuery() url.Values {
	q := url.Values{}
	q.Set("category", category)
	return q
}
