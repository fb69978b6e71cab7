package bitstamp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	ohlcPageLimit = 1000

	statusCanceled = "Canceled"
	statusOpen     = "Open"
	tradingEnabled = "Enabled"
	orderTypeBuy   = "0"
	orderTypeSell  = "1"
)

// Interval codes are the step in seconds.
var granularities = market.Granularities{
	1:    "60",
	3:    "180",
	5:    "300",
	15:   "900",
	30:   "1800",
	60:   "3600",
	120:  "7200",
	240:  "14400",
	360:  "21600",
	720:  "43200",
	1440: "86400",
	4320: "259200",
}

// Only an explicit Canceled confirms a cancel here; a Finished or rejected
// order is reported as a failure.
var canceledLike = market.NewStatusSet(statusCanceled)

type pairInfo struct {
	Name            string `json:"name"`
	URLSymbol       string `json:"url_symbol"`
	BaseDecimals    int    `json:"base_decimals"`
	CounterDecimals int    `json:"counter_decimals"`
	MinimumOrder    string `json:"minimum_order"`
	Trading         string `json:"trading"`
}

func (p pairInfo) assets() (string, string) {
	base, quote, err := core.ParseProduct(p.Name)
	if err != nil {
		return "", ""
	}
	return base, quote
}

func (p pairInfo) tradable() bool {
	return strings.EqualFold(p.Trading, tradingEnabled)
}

func (p pairInfo) constraints() core.SymbolConstraints {
	// minimum_order reads like "10.0 USD"
	minimum := p.MinimumOrder
	if f := strings.Fields(minimum); len(f) > 0 {
		minimum = f[0]
	}
	return core.SymbolConstraints{
		Symbol:        p.URLSymbol,
		StepSize:      core.DecimalsToStep(p.BaseDecimals),
		PriceTickSize: core.DecimalsToStep(p.CounterDecimals),
		MinNotional:   market.Dec(minimum),
		Source:        "trading-pairs-info",
	}
}

type ohlcResponse struct {
	Data struct {
		Pair string `json:"pair"`
		OHLC []struct {
			Timestamp json.RawMessage `json:"timestamp"`
			Open      string          `json:"open"`
			High      string          `json:"high"`
			Low       string          `json:"low"`
			Close     string          `json:"close"`
			Volume    string          `json:"volume"`
		} `json:"ohlc"`
	} `json:"data"`
}

type tickerResponse struct {
	Last string `json:"last"`
	Bid  string `json:"bid"`
	Ask  string `json:"ask"`
}

type transaction struct {
	Price string `json:"price"`
}

type tradingFee struct {
	CurrencyPair string `json:"currency_pair"`
	Fees         struct {
		Maker string `json:"maker"`
		Taker string `json:"taker"`
	} `json:"fees"`
}

// orderResponse covers both outcomes of a placement. Failures come back as
// {"status":"error","reason":...} where reason is a string or a map of
// field errors.
type orderResponse struct {
	ID     json.Number     `json:"id"`
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
	Price  string          `json:"price"`
	Amount string          `json:"amount"`
}

func (r orderResponse) result() core.OrderResult {
	if strings.EqualFold(r.Status, "error") || r.ID.String() == "" {
		msg := reasonText(r.Reason)
		if msg == "" {
			msg = "order not accepted"
		}
		return core.OrderResult{Message: msg}
	}
	return core.OrderResult{OrderID: r.ID.String(), Accepted: true}
}

func reasonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var fields map[string][]string
	if json.Unmarshal(raw, &fields) == nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strings.Join(fields[k], " "))
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}

type openOrder struct {
	ID            json.Number `json:"id"`
	Datetime      string      `json:"datetime"`
	Type          json.Number `json:"type"`
	Price         string      `json:"price"`
	Amount        string      `json:"amount"`
	CurrencyPair  string      `json:"currency_pair"`
	ClientOrderID string      `json:"client_order_id"`
}

func (o openOrder) side() core.Side {
	if o.Type.String() == orderTypeSell {
		return core.Sell
	}
	return core.Buy
}

type cancelResponse struct {
	ID    json.Number `json:"id"`
	Error string      `json:"error"`
}

type orderStatusResponse struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
	Error  string      `json:"error"`
}

// APIError is a {"status":"error"} or {"error":...} body on a 2xx.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitstamp %s: %s", e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "invalid order id"):
		return core.ErrOrderNotFound
	case strings.Contains(msg, "available"), strings.Contains(msg, "insufficient"):
		return core.ErrInsufficientBalance
	}
	return nil
}
