package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) instruments(ctx context.Context) ([]instrument, error) {
	const path = "/api/v5/public/instruments"
	q := url.Values{}
	q.Set("instType", "SPOT")
	data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
	if err != nil {
		return nil, err
	}
	var out []instrument
	if err := decode(path, data, &out); err != nil {
		return nil, err
	}
	for _, i := range out {
		c.symbols.Learn(i.BaseCcy, i.QuoteCcy, i.InstID)
	}
	return out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	insts, err := c.instruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(insts))
	for _, i := range insts {
		out = append(out, core.Product{
			ID:          core.ProductID(i.BaseCcy, i.QuoteCcy),
			VenueSymbol: i.InstID,
			Base:        i.BaseCcy,
			Quote:       i.QuoteCcy,
			Active:      i.tradable(),
		})
	}
	return out, nil
}

func (c *Client) loadConstraints(ctx context.Context) (map[string]core.SymbolConstraints, error) {
	insts, err := c.instruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolConstraints, len(insts))
	for _, i := range insts {
		if i.tradable() {
			out[i.InstID] = i.constraints()
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

// GetCandles walks history-candles in fixed windows of one page each. The
// venue pages backwards: after is an exclusive upper bound and before an
// exclusive lower bound, both in milliseconds.
func (c *Client) GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error) {
	const path = "/api/v5/market/history-candles"
	bar, interval, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	spec := market.PageSpec{Interval: interval, Span: interval * candlePageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		q := url.Values{}
		q.Set("instId", symbol)
		q.Set("bar", bar)
		q.Set("after", strconv.FormatInt(to.UnixMilli()+1, 10))
		q.Set("before", strconv.FormatInt(from.UnixMilli()-1, 10))
		q.Set("limit", strconv.Itoa(candlePageLimit))
		data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
		if err != nil {
			return nil, err
		}
		var rows [][]json.RawMessage
		if err := decode(path, data, &rows); err != nil {
			return nil, err
		}
		out := make([]core.Candle, 0, len(rows))
		for _, row := range rows {
			candle, err := market.CandleFromRow(row, candleLayout)
			if err != nil {
				return nil, core.NewProtocolError(Name, path, data, err)
			}
			out = append(out, candle)
		}
		return out, nil
	})
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	const path = "/api/v5/market/ticker"
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	q := url.Values{}
	q.Set("instId", symbol)
	data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
	if err != nil {
		return core.Ticker{}, err
	}
	var rows []ticker
	if err := decode(path, data, &rows); err != nil {
		return core.Ticker{}, err
	}
	var quote market.Quote
	if len(rows) > 0 {
		quote = market.Quote{Bid: market.Dec(rows[0].BidPx), Ask: market.Dec(rows[0].AskPx), Last: market.Dec(rows[0].Last)}
	}
	return market.ResolveTicker(ctx, quote, func(ctx context.Context) (decimal.Decimal, error) {
		return c.lastTrade(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) lastTrade(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const path = "/api/v5/market/trades"
	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("limit", "1")
	data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
	if err != nil {
		return decimal.Zero, err
	}
	var rows []trade
	if err := decode(path, data, &rows); err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("okx: no recent trades for %s", symbol)
	}
	return market.Dec(rows[0].Px), nil
}

// GetFees reads the account's spot fee tier. Rates come back negative for
// fees charged, so they are flipped before use.
func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.tradeFees(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) tradeFees(ctx context.Context) ([]market.FeeRow, error) {
	const path = "/api/v5/account/trade-fee"
	if !c.hasCredentials() {
		return nil, fmt.Errorf("%w: no api key", core.ErrMissingCredentials)
	}
	q := url.Values{}
	q.Set("instType", "SPOT")
	data, err := c.do(ctx, http.MethodGet, path, q, nil, true)
	if err != nil {
		return nil, err
	}
	var fees []tradeFee
	if err := decode(path, data, &fees); err != nil {
		return nil, err
	}
	rows := make([]market.FeeRow, 0, len(fees))
	for _, f := range fees {
		rows = append(rows, f.row())
	}
	return rows, nil
}
