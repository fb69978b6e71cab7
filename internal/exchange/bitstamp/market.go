package bitstamp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) pairs(ctx context.Context) ([]pairInfo, error) {
	var pairs []pairInfo
	if err := c.public(ctx, "/api/v2/trading-pairs-info/", nil, &pairs); err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if base, quote := p.assets(); base != "" {
			c.symbols.Learn(base, quote, p.URLSymbol)
		}
	}
	return pairs, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	pairs, err := c.pairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(pairs))
	for _, p := range pairs {
		base, quote := p.assets()
		if base == "" {
			continue
		}
		out = append(out, core.Product{
			ID:          core.ProductID(base, quote),
			VenueSymbol: p.URLSymbol,
			Base:        base,
			Quote:       quote,
			Active:      p.tradable(),
		})
	}
	return out, nil
}

func (c *Client) loadConstraints(ctx context.Context) (map[string]core.SymbolConstraints, error) {
	pairs, err := c.pairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolConstraints, len(pairs))
	for _, p := range pairs {
		if p.tradable() {
			out[p.URLSymbol] = p.constraints()
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

func (c *Client) GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error) {
	step, interval, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	path := "/api/v2/ohlc/" + symbol + "/"
	spec := market.PageSpec{Interval: interval, Limit: ohlcPageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		params := url.Values{}
		params.Set("step", step)
		params.Set("limit", strconv.Itoa(ohlcPageLimit))
		params.Set("start", strconv.FormatInt(from.Unix(), 10))
		params.Set("end", strconv.FormatInt(to.Unix(), 10))
		var resp ohlcResponse
		if err := c.public(ctx, path, params, &resp); err != nil {
			return nil, err
		}
		out := make([]core.Candle, 0, len(resp.Data.OHLC))
		for _, row := range resp.Data.OHLC {
			ts, err := market.ParseTimestamp(row.Timestamp, time.Second)
			if err != nil {
				return nil, core.NewProtocolError(Name, path, row.Timestamp, err)
			}
			out = append(out, core.Candle{
				Time:   ts,
				Open:   market.Dec(row.Open),
				High:   market.Dec(row.High),
				Low:    market.Dec(row.Low),
				Close:  market.Dec(row.Close),
				Volume: market.Dec(row.Volume),
			})
		}
		return out, nil
	})
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	var resp tickerResponse
	if err := c.public(ctx, "/api/v2/ticker/"+symbol+"/", nil, &resp); err != nil {
		return core.Ticker{}, err
	}
	q := market.Quote{Bid: market.Dec(resp.Bid), Ask: market.Dec(resp.Ask), Last: market.Dec(resp.Last)}
	return market.ResolveTicker(ctx, q, func(ctx context.Context) (decimal.Decimal, error) {
		return c.lastTrade(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) lastTrade(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("time", "hour")
	var txs []transaction
	if err := c.public(ctx, "/api/v2/transactions/"+symbol+"/", params, &txs); err != nil {
		return decimal.Zero, err
	}
	if len(txs) == 0 {
		return decimal.Zero, fmt.Errorf("bitstamp: no recent trades for %s", symbol)
	}
	return market.Dec(txs[0].Price), nil
}

// GetFees reads per-pair trading fees. The venue quotes them in percent.
func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.tradingFees(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) tradingFees(ctx context.Context) ([]market.FeeRow, error) {
	if key, _ := c.credentials(); key == "" {
		return nil, fmt.Errorf("%w: no api key", core.ErrMissingCredentials)
	}
	var fees []tradingFee
	if err := c.private(ctx, "/api/v2/fees/trading/", url.Values{}, &fees); err != nil {
		return nil, err
	}
	rows := make([]market.FeeRow, 0, len(fees))
	for _, f := range fees {
		rows = append(rows, market.FeeRow{Maker: market.Dec(f.Fees.Maker), Taker: market.Dec(f.Fees.Taker)}.FromPercent())
	}
	return rows, nil
}
