package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) assetPairs(ctx context.Context) (map[string]assetPair, error) {
	var pairs map[string]assetPair
	if err := c.public(ctx, "AssetPairs", nil, &pairs); err != nil {
		return nil, err
	}
	for key, p := range pairs {
		alt := []string{key}
		if p.Wsname != "" {
			alt = append(alt, strings.ReplaceAll(p.Wsname, "/", ""))
		}
		c.symbols.Learn(p.Base, p.Quote, p.Altname, alt...)
	}
	return pairs, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	pairs, err := c.assetPairs(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]core.Product, 0, len(pairs))
	for _, k := range keys {
		p := pairs[k]
		base, quote := c.symbols.Canonical(p.Base), c.symbols.Canonical(p.Quote)
		out = append(out, core.Product{
			ID:          core.ProductID(base, quote),
			VenueSymbol: p.Altname,
			Base:        base,
			Quote:       quote,
			Active:      p.tradable(),
		})
	}
	return out, nil
}

func (c *Client) loadConstraints(ctx context.Context) (map[string]core.SymbolConstraints, error) {
	pairs, err := c.assetPairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolConstraints, len(pairs))
	for _, p := range pairs {
		if p.tradable() {
			out[p.Altname] = p.constraints()
		}
	}
	return out, nil
}

func (c *Client) GetSymbolConstraints(ctx context.Context, productID string) (core.SymbolConstraints, error) {
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.SymbolConstraints{}, err
	}
	return c.deps.Constraints.Get(ctx, symbol, c.loadConstraints)
}

// pairRows picks the data member of a result keyed by the venue's own pair
// name, which may differ from the requested one (XBTUSD -> XXBTZUSD).
func pairRows(result map[string]json.RawMessage) (json.RawMessage, bool) {
	for k, v := range result {
		if k != "last" {
			return v, true
		}
	}
	return nil, false
}

// GetCandles pages with since; the venue never returns more than 720 rows.
func (c *Client) GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error) {
	code, interval, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	spec := market.PageSpec{Interval: interval, Limit: ohlcPageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		params := url.Values{}
		params.Set("pair", symbol)
		params.Set("interval", code)
		// since is exclusive
		params.Set("since", strconv.FormatInt(from.Unix()-1, 10))
		var result map[string]json.RawMessage
		if err := c.public(ctx, "OHLC", params, &result); err != nil {
			return nil, err
		}
		raw, ok := pairRows(result)
		if !ok {
			return nil, nil
		}
		var rows [][]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, core.NewProtocolError(Name, "/0/public/OHLC", raw, err)
		}
		out := make([]core.Candle, 0, len(rows))
		for _, row := range rows {
			candle, err := market.CandleFromRow(row, ohlcLayout)
			if err != nil {
				return nil, core.NewProtocolError(Name, "/0/public/OHLC", raw, err)
			}
			if candle.Time.Before(from) || candle.Time.After(to) {
				continue
			}
			out = append(out, candle)
		}
		return out, nil
	})
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	params := url.Values{}
	params.Set("pair", symbol)
	var result map[string]tickerInfo
	if err := c.public(ctx, "Ticker", params, &result); err != nil {
		return core.Ticker{}, err
	}
	var quote market.Quote
	for _, info := range result {
		quote = market.Quote{
			Bid:  market.Dec(first(info.Bid)),
			Ask:  market.Dec(first(info.Ask)),
			Last: market.Dec(first(info.Last)),
		}
		break
	}
	return market.ResolveTicker(ctx, quote, func(ctx context.Context) (decimal.Decimal, error) {
		return c.lastTrade(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) lastTrade(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("pair", symbol)
	params.Set("count", "1")
	var result map[string]json.RawMessage
	if err := c.public(ctx, "Trades", params, &result); err != nil {
		return decimal.Zero, err
	}
	raw, ok := pairRows(result)
	if !ok {
		return decimal.Zero, fmt.Errorf("kraken trades: no rows for %s", symbol)
	}
	var trades [][]json.RawMessage
	if err := json.Unmarshal(raw, &trades); err != nil || len(trades) == 0 || len(trades[0]) == 0 {
		return decimal.Zero, core.NewProtocolError(Name, "/0/public/Trades", raw, err)
	}
	var price decimal.Decimal
	if err := json.Unmarshal(trades[len(trades)-1][0], &price); err != nil {
		return decimal.Zero, core.NewProtocolError(Name, "/0/public/Trades", raw, err)
	}
	return price, nil
}

// GetFees asks TradeVolume for a few reference pairs. Rates come back in
// percent.
func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.tradeVolume(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) tradeVolume(ctx context.Context) ([]market.FeeRow, error) {
	if key, _ := c.credentials(); key == "" {
		return nil, fmt.Errorf("%w: no api key", core.ErrMissingCredentials)
	}
	params := url.Values{}
	params.Set("pair", feeProbePairs)
	var vol tradeVolume
	if err := c.private(ctx, "TradeVolume", params, &vol); err != nil {
		return nil, err
	}
	return vol.rows(), nil
}
