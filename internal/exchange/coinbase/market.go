package coinbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) products(ctx context.Context) ([]productResponse, error) {
	const endpoint = "/api/v3/brokerage/market/products"
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp productsResponse
	if err := decode(endpoint, body, &resp); err != nil {
		return nil, err
	}
	for _, p := range resp.Products {
		c.symbols.Learn(p.BaseCurrencyID, p.QuoteCurrencyID, p.ProductID)
	}
	return resp.Products, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	products, err := c.products(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(products))
	for _, p := range products {
		out = append(out, core.Product{
			ID:          core.ProductID(p.BaseCurrencyID, p.QuoteCurrencyID),
			VenueSymbol: p.ProductID,
			Base:        p.BaseCurrencyID,
			Quote:       p.QuoteCurrencyID,
			Active:      p.tradable(),
		})
	}
	return out, nil
}

func (c *Client) loadConstraints(ctx context.Context) (map[string]core.SymbolConstraints, error) {
	products, err := c.products(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolConstraints, len(products))
	for _, p := range products {
		if p.tradable() {
			out[p.ProductID] = p.constraints()
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

// GetCandles pages 300 candles at a time. The venue returns newest first;
// Paginate sorts.
func (c *Client) GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error) {
	code, interval, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	endpoint := "/api/v3/brokerage/market/products/" + url.PathEscape(symbol) + "/candles"
	spec := market.PageSpec{Interval: interval, Limit: candlePageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		q := url.Values{}
		q.Set("start", strconv.FormatInt(from.Unix(), 10))
		q.Set("end", strconv.FormatInt(to.Unix(), 10))
		q.Set("granularity", code)
		q.Set("limit", strconv.Itoa(candlePageLimit))
		body, err := c.do(ctx, http.MethodGet, endpoint, q, nil, false)
		if err != nil {
			return nil, err
		}
		var resp candlesResponse
		if err := decode(endpoint, body, &resp); err != nil {
			return nil, err
		}
		out := make([]core.Candle, 0, len(resp.Candles))
		for _, row := range resp.Candles {
			ts, err := market.ParseTimestamp(row.Start, time.Second)
			if err != nil {
				return nil, core.NewProtocolError(Name, endpoint, body, err)
			}
			out = append(out, core.Candle{Time: ts, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
		}
		return out, nil
	})
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	endpoint := "/api/v3/brokerage/market/products/" + url.PathEscape(symbol) + "/ticker"
	q := url.Values{}
	q.Set("limit", "1")
	body, err := c.do(ctx, http.MethodGet, endpoint, q, nil, false)
	if err != nil {
		return core.Ticker{}, err
	}
	var resp tickerResponse
	if err := decode(endpoint, body, &resp); err != nil {
		return core.Ticker{}, err
	}
	quote := market.Quote{Bid: market.Dec(resp.BestBid), Ask: market.Dec(resp.BestAsk)}
	if len(resp.Trades) > 0 {
		quote.Last = market.Dec(resp.Trades[0].Price)
	}
	return market.ResolveTicker(ctx, quote, func(ctx context.Context) (decimal.Decimal, error) {
		return c.productPrice(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) productPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := "/api/v3/brokerage/market/products/" + url.PathEscape(symbol)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, false)
	if err != nil {
		return decimal.Zero, err
	}
	var p productResponse
	if err := decode(endpoint, body, &p); err != nil {
		return decimal.Zero, err
	}
	return market.Dec(p.Price), nil
}

// GetFees reads the account's current fee tier from the transaction summary.
func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.feeTier(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) feeTier(ctx context.Context) ([]market.FeeRow, error) {
	const endpoint = "/api/v3/brokerage/transaction_summary"
	if c.currentSigner() == nil {
		return nil, fmt.Errorf("%w: no key", core.ErrMissingCredentials)
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp transactionSummary
	if err := decode(endpoint, body, &resp); err != nil {
		return nil, err
	}
	if resp.FeeTier.MakerFeeRate == "" && resp.FeeTier.TakerFeeRate == "" {
		return nil, nil
	}
	return []market.FeeRow{{
		Maker: market.Dec(resp.FeeTier.MakerFeeRate),
		Taker: market.Dec(resp.FeeTier.TakerFeeRate),
	}}, nil
}
