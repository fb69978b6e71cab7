package bybit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) instruments(ctx context.Context) ([]instrument, error) {
	const path = "/v5/market/instruments-info"
	data, err := c.do(ctx, http.MethodGet, path, spotQuery(), nil, false)
	if err != nil {
		return nil, err
	}
	var res instrumentsResult
	if err := decode(path, data, &res); err != nil {
		return nil, err
	}
	for _, i := range res.List {
		c.symbols.Learn(i.BaseCoin, i.QuoteCoin, i.Symbol)
	}
	return res.List, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	insts, err := c.instruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(insts))
	for _, i := range insts {
		out = append(out, core.Product{
			ID:          core.ProductID(i.BaseCoin, i.QuoteCoin),
			VenueSymbol: i.Symbol,
			Base:        i.BaseCoin,
			Quote:       i.QuoteCoin,
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
			out[i.Symbol] = i.constraints()
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
	const path = "/v5/market/kline"
	interval, step, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	spec := market.PageSpec{Interval: step, Limit: klinePageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		q := spotQuery()
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("start", strconv.FormatInt(from.UnixMilli(), 10))
		q.Set("end", strconv.FormatInt(to.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(klinePageLimit))
		data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
		if err != nil {
			return nil, err
		}
		var res klineResult
		if err := decode(path, data, &res); err != nil {
			return nil, err
		}
		out := make([]core.Candle, 0, len(res.List))
		for _, row := range res.List {
			candle, err := market.CandleFromRow(row, klineLayout)
			if err != nil {
				return nil, core.NewProtocolError(Name, path, data, err)
			}
			out = append(out, candle)
		}
		return out, nil
	})
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	const path = "/v5/market/tickers"
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	q := spotQuery()
	q.Set("symbol", symbol)
	data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
	if err != nil {
		return core.Ticker{}, err
	}
	var res tickersResult
	if err := decode(path, data, &res); err != nil {
		return core.Ticker{}, err
	}
	var quote market.Quote
	if len(res.List) > 0 {
		t := res.List[0]
		quote = market.Quote{Bid: market.Dec(t.Bid1Price), Ask: market.Dec(t.Ask1Price), Last: market.Dec(t.LastPrice)}
	}
	return market.ResolveTicker(ctx, quote, func(ctx context.Context) (decimal.Decimal, error) {
		return c.lastTrade(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) lastTrade(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const path = "/v5/market/recent-trade"
	q := spotQuery()
	q.Set("symbol", symbol)
	q.Set("limit", "1")
	data, err := c.do(ctx, http.MethodGet, path, q, nil, false)
	if err != nil {
		return decimal.Zero, err
	}
	var res tradesResult
	if err := decode(path, data, &res); err != nil {
		return decimal.Zero, err
	}
	if len(res.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: no recent trades for %s", symbol)
	}
	return market.Dec(res.List[0].Price), nil
}

func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.feeRates(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) feeRates(ctx context.Context) ([]market.FeeRow, error) {
	const path = "/v5/account/fee-rate"
	if !c.hasCredentials() {
		return nil, fmt.Errorf("%w: no api key", core.ErrMissingCredentials)
	}
	data, err := c.do(ctx, http.MethodGet, path, spotQuery(), nil, true)
	if err != nil {
		return nil, err
	}
	var res feeRateResult
	if err := decode(path, data, &res); err != nil {
		return nil, err
	}
	rows := make([]market.FeeRow, 0, len(res.List))
	for _, f := range res.List {
		rows = append(rows, market.FeeRow{Maker: market.Dec(f.MakerFeeRate), Taker: market.Dec(f.TakerFeeRate)})
	}
	return rows, nil
}
