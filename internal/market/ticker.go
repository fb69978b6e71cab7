package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
)

// Quote is a venue's raw top of book; zero means absent.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
}

// LastTradeFunc fetches the most recent trade price when the quote has none.
type LastTradeFunc func(ctx context.Context) (decimal.Decimal, error)

// ResolveTicker prefers the bid/ask midpoint as Last, then the venue's last
// price, then lastTrade. Missing bid or ask default to Last.
func ResolveTicker(ctx context.Context, q Quote, lastTrade LastTradeFunc, now time.Time) (core.Ticker, error) {
	last := decimal.Zero
	switch {
	case q.Bid.IsPositive() && q.Ask.IsPositive() && q.Ask.GreaterThanOrEqual(q.Bid):
		last = q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	case q.Last.IsPositive():
		last = q.Last
	case lastTrade != nil:
		v, err := lastTrade(ctx)
		if err != nil {
			return core.Ticker{}, fmt.Errorf("%w: last trade: %w", core.ErrInvalidTicker, err)
		}
		last = v
	}
	if !last.IsPositive() {
		return core.Ticker{}, fmt.Errorf("%w: no positive price", core.ErrInvalidTicker)
	}
	t := core.Ticker{Bid: q.Bid, Ask: q.Ask, Last: last, ObservedAt: now.UTC()}
	if !t.Bid.IsPositive() {
		t.Bid = last
	}
	if !t.Ask.IsPositive() {
		t.Ask = last
	}
	return t, nil
}
