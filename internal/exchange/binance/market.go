package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) exchangeInfo(ctx context.Context) (gobinance.ExchangeInfo, error) {
	const endpoint = "/api/v3/exchangeInfo"
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, AuthNone)
	if err != nil {
		return gobinance.ExchangeInfo{}, err
	}
	var info gobinance.ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return gobinance.ExchangeInfo{}, core.NewProtocolError(Name, endpoint, body, err)
	}
	for _, s := range info.Symbols {
		c.symbols.Learn(s.BaseAsset, s.QuoteAsset, s.Symbol)
	}
	return info, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	info, err := c.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		p := core.Product{
			ID:          core.ProductID(s.BaseAsset, s.QuoteAsset),
			VenueSymbol: s.Symbol,
			Base:        s.BaseAsset,
			Quote:       s.QuoteAsset,
			Active:      symbolTradable(s),
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) loadConstraints(ctx context.Context) (map[string]core.SymbolConstraints, error) {
	info, err := c.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolConstraints, len(info.Symbols))
	for _, s := range info.Symbols {
		if !symbolTradable(s) {
			continue
		}
		out[s.Symbol] = parseConstraints(s)
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
	code, interval, err := granularities.Lookup(granularityMinutes)
	if err != nil {
		return nil, err
	}
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return nil, err
	}
	spec := market.PageSpec{Interval: interval, Limit: klinePageLimit}
	return market.Paginate(ctx, start, end, spec, func(ctx context.Context, from, to time.Time) ([]core.Candle, error) {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", code)
		params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
		params.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
		params.Set("limit", strconv.Itoa(klinePageLimit))
		return c.klines(ctx, params)
	})
}

func (c *Client) klines(ctx context.Context, params url.Values) ([]core.Candle, error) {
	const endpoint = "/api/v3/klines"
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, params, AuthNone)
	if err != nil {
		return nil, err
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, core.NewProtocolError(Name, endpoint, body, err)
	}
	out := make([]core.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := market.CandleFromRow(row, klineLayout)
		if err != nil {
			return nil, core.NewProtocolError(Name, endpoint, body, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, productID string) (core.Ticker, error) {
	const endpoint = "/api/v3/ticker/bookTicker"
	symbol, err := c.symbols.VenueSymbol(productID)
	if err != nil {
		return core.Ticker{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, params, AuthNone)
	if err != nil {
		return core.Ticker{}, err
	}
	var book gobinance.BookTicker
	if err := json.Unmarshal(body, &book); err != nil {
		return core.Ticker{}, core.NewProtocolError(Name, endpoint, body, err)
	}
	q := market.Quote{Bid: market.Dec(book.BidPrice), Ask: market.Dec(book.AskPrice)}
	return market.ResolveTicker(ctx, q, func(ctx context.Context) (decimal.Decimal, error) {
		return c.lastPrice(ctx, symbol)
	}, c.deps.Now())
}

func (c *Client) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const endpoint = "/api/v3/ticker/price"
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, params, AuthNone)
	if err != nil {
		return decimal.Zero, err
	}
	var price gobinance.SymbolPrice
	if err := json.Unmarshal(body, &price); err != nil {
		return decimal.Zero, core.NewProtocolError(Name, endpoint, body, err)
	}
	return market.Dec(price.Price), nil
}

// GetFees reads the account's per-symbol commission rows and reports the
// worst case across them.
func (c *Client) GetFees(ctx context.Context) (core.FeeSchedule, error) {
	rows, err := c.tradeFees(ctx)
	return market.ResolveFees(Name, rows, err, c.deps.FallbackFees), nil
}

func (c *Client) tradeFees(ctx context.Context) ([]market.FeeRow, error) {
	const endpoint = "/sapi/v1/asset/tradeFee"
	if !c.hasCredentials() {
		return nil, fmt.Errorf("%w: no api key", core.ErrMissingCredentials)
	}
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, AuthSigned)
	if err != nil {
		return nil, err
	}
	var details []gobinance.TradeFeeDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, core.NewProtocolError(Name, endpoint, body, err)
	}
	rows := make([]market.FeeRow, 0, len(details))
	for _, d := range details {
		rows = append(rows, market.FeeRow{Maker: market.Dec(d.MakerCommission), Taker: market.Dec(d.TakerCommission)})
	}
	return rows, nil
}
