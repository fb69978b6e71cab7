package binance

import (
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	klinePageLimit = 1000
	symbolTrading  = "TRADING"
)

var granularities = market.Granularities{
	1:     "1m",
	3:     "3m",
	5:     "5m",
	15:    "15m",
	30:    "30m",
	60:    "1h",
	120:   "2h",
	240:   "4h",
	360:   "6h",
	480:   "8h",
	720:   "12h",
	1440:  "1d",
	4320:  "3d",
	10080: "1w",
}

var klineLayout = market.RowLayout{Time: 0, Open: 1, High: 2, Low: 3, Close: 4, Volume: 5}

// REJECTED counts as canceled here: a cancel that comes back rejected
// leaves nothing working on the book.
var canceledLike = market.NewStatusSet(
	string(gobinance.OrderStatusTypeCanceled),
	string(gobinance.OrderStatusTypePendingCancel),
	string(gobinance.OrderStatusTypeExpired),
	string(gobinance.OrderStatusTypeRejected),
)

func symbolTradable(s gobinance.Symbol) bool {
	return s.Status == symbolTrading && s.IsSpotTradingAllowed
}

func parseConstraints(s gobinance.Symbol) core.SymbolConstraints {
	out := core.SymbolConstraints{Symbol: s.Symbol, Source: "exchangeInfo"}
	if lot := s.LotSizeFilter(); lot != nil {
		out.MinQty = market.Dec(lot.MinQuantity)
		out.MaxQty = market.Dec(lot.MaxQuantity)
		out.StepSize = market.Dec(lot.StepSize)
	}
	if pf := s.PriceFilter(); pf != nil {
		out.PriceTickSize = market.Dec(pf.TickSize)
	}
	out.MinNotional = minNotional(s.Filters)
	return out
}

// minNotional reads either the legacy MIN_NOTIONAL or the newer NOTIONAL
// filter, whichever is present.
func minNotional(filters []map[string]interface{}) decimal.Decimal {
	for _, f := range filters {
		kind, _ := f["filterType"].(string)
		if kind != "MIN_NOTIONAL" && kind != "NOTIONAL" {
			continue
		}
		if v, ok := f["minNotional"].(string); ok {
			return market.Dec(v)
		}
	}
	return decimal.Zero
}

func openStatus(status gobinance.OrderStatusType) (core.OrderStatus, bool) {
	switch status {
	case gobinance.OrderStatusTypeNew:
		return core.OrderOpen, true
	case gobinance.OrderStatusTypePartiallyFilled:
		return core.OrderPartiallyFilled, true
	}
	return "", false
}

func sideType(s core.Side) gobinance.SideType {
	if s == core.Sell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func timeInForce(t core.TimeInForce) gobinance.TimeInForceType {
	switch t {
	case core.IOC:
		return gobinance.TimeInForceTypeIOC
	case core.FOK:
		return gobinance.TimeInForceTypeFOK
	}
	return gobinance.TimeInForceTypeGTC
}

// orderResult normalizes a placement response. Priority: a non-positive
// order id or a REJECTED/EXPIRED status means not accepted; FILLED means
// filled; executed quantity and quote totals give the average price.
func orderResult(resp gobinance.CreateOrderResponse) core.OrderResult {
	res := core.OrderResult{
		Message:   strings.TrimSpace(string(resp.Status)),
		FilledQty: market.Dec(resp.ExecutedQuantity),
	}
	if resp.OrderID > 0 {
		res.OrderID = formatID(resp.OrderID)
	}
	switch resp.Status {
	case gobinance.OrderStatusTypeRejected, gobinance.OrderStatusTypeExpired:
		res.Accepted = false
	default:
		res.Accepted = resp.OrderID > 0
	}
	res.Filled = res.Accepted && resp.Status == gobinance.OrderStatusTypeFilled
	if quote := market.Dec(resp.CummulativeQuoteQuantity); res.FilledQty.IsPositive() && quote.IsPositive() {
		res.AvgFillPrice = quote.Div(res.FilledQty)
	}
	return res
}
