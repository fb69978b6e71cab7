package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"spot-connect/internal/config"
	"spot-connect/internal/core"
	"spot-connect/internal/exchange/binance"
	"spot-connect/internal/exchange/bitstamp"
	"spot-connect/internal/exchange/bybit"
	"spot-connect/internal/exchange/coinbase"
	"spot-connect/internal/exchange/kraken"
	"spot-connect/internal/exchange/okx"
	"spot-connect/internal/market"
	"spot-connect/internal/metrics"
	"spot-connect/internal/transport"
)

var (
	_ Exchange = (*binance.Client)(nil)
	_ Exchange = (*coinbase.Client)(nil)
	_ Exchange = (*kraken.Client)(nil)
	_ Exchange = (*bitstamp.Client)(nil)
	_ Exchange = (*okx.Client)(nil)
	_ Exchange = (*bybit.Client)(nil)
)

var ErrUnknownVenue = errors.New("unknown venue")

// Registry builds adapters from config. Every adapter of one venue shares a
// transport client (and so its rate limiter), a constraints cache, an
// order-symbol map and a nonce source.
type Registry struct {
	cfg     config.Config
	metrics *metrics.Collector

	mu     sync.Mutex
	shared map[string]market.Deps
}

func NewRegistry(cfg config.Config, m *metrics.Collector) *Registry {
	return &Registry{cfg: cfg, metrics: m, shared: make(map[string]market.Deps)}
}

// Names lists the venues the registry can build, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), config.Venues...)
	sort.Strings(names)
	return names
}

// New builds an adapter for name with the credentials from config.
func (r *Registry) New(name string) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	v, ok := r.cfg.Venue(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, name)
	}
	return r.build(name, v, v.Credentials())
}

// NewWithCredentials is New with explicit credentials in place of the
// configured ones.
func (r *Registry) NewWithCredentials(name string, creds core.Credentials) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	v, ok := r.cfg.Venue(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, name)
	}
	return r.build(name, v, creds)
}

func (r *Registry) build(name string, v config.VenueConfig, creds core.Credentials) (Exchange, error) {
	deps := r.deps(name, v)
	recvWindow := time.Duration(v.RecvWindowMs) * time.Millisecond
	switch name {
	case config.VenueBinance:
		return binance.New(binance.Options{BaseURL: v.BaseURL, Credentials: creds, RecvWindow: recvWindow, Deps: deps})
	case config.VenueCoinbase:
		return coinbase.New(coinbase.Options{BaseURL: v.BaseURL, Credentials: creds, Deps: deps})
	case config.VenueKraken:
		return kraken.New(kraken.Options{BaseURL: v.BaseURL, Credentials: creds, Deps: deps})
	case config.VenueBitstamp:
		return bitstamp.New(bitstamp.Options{BaseURL: v.BaseURL, Credentials: creds, Deps: deps})
	case config.VenueOKX:
		return okx.New(okx.Options{BaseURL: v.BaseURL, Credentials: creds, Simulated: v.Simulated, Deps: deps})
	case config.VenueBybit:
		return bybit.New(bybit.Options{BaseURL: v.BaseURL, Credentials: creds, RecvWindow: recvWindow, Deps: deps})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, name)
}

func (r *Registry) deps(name string, v config.VenueConfig) market.Deps {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.shared[name]; ok {
		return d
	}
	d := market.Deps{
		HTTP: transport.New(transport.Options{
			Venue:             name,
			UserAgent:         r.cfg.UserAgent,
			Timeout:           r.cfg.HTTPTimeout(),
			PrivateTimeout:    r.cfg.PrivateTimeout(),
			RequestsPerSecond: v.RequestsPerSecond,
			Burst:             v.Burst,
			QuietFailures:     v.Quiet(),
			Retry:             RetryPolicy(r.cfg.Retry),
			Metrics:           r.metrics,
		}),
		Constraints:  market.NewConstraintsCache(name, r.cfg.ConstraintsTTL(), r.metrics),
		Orders:       market.NewOrderSymbols(),
		FallbackFees: v.Fallback(),
		Metrics:      r.metrics,
	}.WithDefaults(name)
	r.shared[name] = d
	return d
}

// RetryPolicy maps the yaml retry block onto the transport policy.
func RetryPolicy(rc config.RetryConfig) transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxAttempts:    rc.MaxAttempts,
		InitialDelay:   time.Duration(rc.InitialDelayMs) * time.Millisecond,
		RateLimitFloor: time.Duration(rc.RateLimitFloorMs) * time.Millisecond,
	}
}
