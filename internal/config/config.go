package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"spot-connect/internal/core"
)

const (
	VenueBinance  = "binance"
	VenueCoinbase = "coinbase"
	VenueKraken   = "kraken"
	VenueBitstamp = "bitstamp"
	VenueOKX      = "okx"
	VenueBybit    = "bybit"
)

// Venues lists every supported venue in display order.
var Venues = []string{VenueBinance, VenueCoinbase, VenueKraken, VenueBitstamp, VenueOKX, VenueBybit}

type venueDefaults struct {
	baseURL string
	envVar  string
	maker   string
	taker   string
	rps     float64
	burst   int
	quiet   bool
	recvWin int64
	passReq bool
	usesJWT bool
}

var defaults = map[string]venueDefaults{
	VenueBinance:  {baseURL: "https://api.binance.com", envVar: "BINANCE_BASE_URL", maker: "0.001", taker: "0.001", rps: 10, burst: 10, recvWin: 5000},
	VenueCoinbase: {baseURL: "https://api.coinbase.com", envVar: "COINBASE_BASE_URL", maker: "0.004", taker: "0.006", rps: 10, burst: 10, usesJWT: true},
	VenueKraken:   {baseURL: "https://api.kraken.com", envVar: "KRAKEN_BASE_URL", maker: "0.0025", taker: "0.004", rps: 1, burst: 3},
	VenueBitstamp: {baseURL: "https://www.bitstamp.net", envVar: "BITSTAMP_BASE_URL", maker: "0.003", taker: "0.004", rps: 8, burst: 8, quiet: true},
	VenueOKX:      {baseURL: "https://www.okx.com", envVar: "OKX_BASE_URL", maker: "0.0008", taker: "0.001", rps: 10, burst: 10, passReq: true},
	VenueBybit:    {baseURL: "https://api.bybit.com", envVar: "BYBIT_BASE_URL", maker: "0.001", taker: "0.001", rps: 10, burst: 10, recvWin: 5000},
}

type Config struct {
	UserAgent         string                 `yaml:"user_agent"`
	HTTPTimeoutSec    int64                  `yaml:"http_timeout_sec"`
	PrivateTimeoutSec int64                  `yaml:"private_timeout_sec"`
	ConstraintsTTLSec int64                  `yaml:"constraints_ttl_sec"`
	Retry             RetryConfig            `yaml:"retry"`
	Venues            map[string]VenueConfig `yaml:"venues"`
}

type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts"`
	InitialDelayMs   int64 `yaml:"initial_delay_ms"`
	RateLimitFloorMs int64 `yaml:"rate_limit_floor_ms"`
}

type VenueConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Passphrase        string  `yaml:"passphrase"`
	KeyName           string  `yaml:"key_name"`
	PrivateKey        string  `yaml:"private_key"`
	RecvWindowMs      int64   `yaml:"recv_window_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	QuietFailures     *bool   `yaml:"quiet_failures"`
	// Simulated sends OKX requests to the demo trading environment.
	Simulated    bool     `yaml:"simulated"`
	FallbackFees FeesConf `yaml:"fallback_fees"`
}

type FeesConf struct {
	MakerRate Decimal `yaml:"maker_rate"`
	TakerRate Decimal `yaml:"taker_rate"`
}

func (v VenueConfig) Credentials() core.Credentials {
	return core.Credentials{
		APIKey:     v.APIKey,
		APISecret:  v.APISecret,
		Passphrase: v.Passphrase,
		KeyName:    v.KeyName,
		PrivateKey: v.PrivateKey,
	}
}

func (v VenueConfig) Fallback() core.FeeSchedule {
	return core.FeeSchedule{MakerRate: v.FallbackFees.MakerRate.Decimal, TakerRate: v.FallbackFees.TakerRate.Decimal}
}

func (v VenueConfig) Quiet() bool {
	return v.QuietFailures != nil && *v.QuietFailures
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func (c Config) PrivateTimeout() time.Duration {
	return time.Duration(c.PrivateTimeoutSec) * time.Second
}

func (c Config) ConstraintsTTL() time.Duration {
	return time.Duration(c.ConstraintsTTLSec) * time.Second
}

// Venue returns the settings for name; unknown names report false.
func (c Config) Venue(name string) (VenueConfig, bool) {
	v, ok := c.Venues[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default is the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.normalize()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) normalize() {
	c.UserAgent = strings.TrimSpace(c.UserAgent)
	venues := make(map[string]VenueConfig, len(c.Venues))
	for name, v := range c.Venues {
		v.BaseURL = strings.TrimRight(strings.TrimSpace(v.BaseURL), "/")
		v.APIKey = strings.TrimSpace(v.APIKey)
		v.APISecret = strings.TrimSpace(v.APISecret)
		v.Passphrase = strings.TrimSpace(v.Passphrase)
		v.KeyName = strings.TrimSpace(v.KeyName)
		v.PrivateKey = strings.TrimSpace(v.PrivateKey)
		venues[strings.ToLower(strings.TrimSpace(name))] = v
	}
	c.Venues = venues
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "spot-connect/1.0"
	}
	if c.HTTPTimeoutSec == 0 {
		c.HTTPTimeoutSec = 15
	}
	if c.PrivateTimeoutSec == 0 {
		c.PrivateTimeoutSec = 20
	}
	if c.ConstraintsTTLSec == 0 {
		c.ConstraintsTTLSec = 1800
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 500
	}
	if c.Retry.RateLimitFloorMs == 0 {
		c.Retry.RateLimitFloorMs = 2000
	}
	if c.Venues == nil {
		c.Venues = make(map[string]VenueConfig, len(Venues))
	}
	for _, name := range Venues {
		d := defaults[name]
		v := c.Venues[name]
		if env := strings.TrimSpace(os.Getenv(d.envVar)); env != "" {
			v.BaseURL = strings.TrimRight(env, "/")
		}
		if v.BaseURL == "" {
			v.BaseURL = d.baseURL
		}
		if v.RecvWindowMs == 0 {
			v.RecvWindowMs = d.recvWin
		}
		if v.RequestsPerSecond == 0 {
			v.RequestsPerSecond = d.rps
		}
		if v.Burst == 0 {
			v.Burst = d.burst
		}
		if v.QuietFailures == nil {
			quiet := d.quiet
			v.QuietFailures = &quiet
		}
		if v.FallbackFees.MakerRate.IsZero() && v.FallbackFees.TakerRate.IsZero() {
			v.FallbackFees.MakerRate = Decimal{decimal.RequireFromString(d.maker)}
			v.FallbackFees.TakerRate = Decimal{decimal.RequireFromString(d.taker)}
		}
		c.Venues[name] = v
	}
}

func (c Config) Validate() error {
	var result *multierror.Error
	if c.HTTPTimeoutSec < 1 || c.HTTPTimeoutSec > 120 {
		result = multierror.Append(result, fmt.Errorf("http_timeout_sec must be between 1 and 120"))
	}
	if c.PrivateTimeoutSec < 1 || c.PrivateTimeoutSec > 120 {
		result = multierror.Append(result, fmt.Errorf("private_timeout_sec must be between 1 and 120"))
	}
	if c.ConstraintsTTLSec < 1 || c.ConstraintsTTLSec > 86400 {
		result = multierror.Append(result, fmt.Errorf("constraints_ttl_sec must be between 1 and 86400"))
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		result = multierror.Append(result, fmt.Errorf("retry.max_attempts must be between 1 and 10"))
	}
	if c.Retry.InitialDelayMs < 1 || c.Retry.RateLimitFloorMs < 1 {
		result = multierror.Append(result, fmt.Errorf("retry delays must be >= 1ms"))
	}

	names := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := c.Venues[name]
		d, known := defaults[name]
		if !known {
			result = multierror.Append(result, fmt.Errorf("venues.%s: unknown venue", name))
			continue
		}
		if err := validateURL(v.BaseURL, "http", "https"); err != nil {
			result = multierror.Append(result, fmt.Errorf("venues.%s.base_url %v", name, err))
		}
		if v.RecvWindowMs < 0 || v.RecvWindowMs > 60000 {
			result = multierror.Append(result, fmt.Errorf("venues.%s.recv_window_ms must be between 0 and 60000", name))
		}
		if v.RequestsPerSecond < 0 || v.Burst < 0 {
			result = multierror.Append(result, fmt.Errorf("venues.%s rate limits must be >= 0", name))
		}
		if v.FallbackFees.MakerRate.IsNegative() || v.FallbackFees.TakerRate.IsNegative() {
			result = multierror.Append(result, fmt.Errorf("venues.%s.fallback_fees must be >= 0", name))
		}
		if (v.APIKey == "") != (v.APISecret == "") && !d.usesJWT {
			result = multierror.Append(result, fmt.Errorf("venues.%s api_key and api_secret must be set together", name))
		}
		if d.passReq && v.APIKey != "" && v.Passphrase == "" {
			result = multierror.Append(result, fmt.Errorf("venues.%s.passphrase is required with api_key", name))
		}
	}
	return result.ErrorOrNil()
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
