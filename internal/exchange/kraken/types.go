package kraken

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	ohlcPageLimit = 720

	statusCanceled      = "CANCELED"
	statusPendingCancel = "PENDING_CANCEL"
	statusNotCanceled   = "NOT_CANCELED"
	pairStatusOnline    = "online"

	// fee rows are only returned for the pairs named in the request
	feeProbePairs = "XBTUSD,ETHUSD"
)

var granularities = market.Granularities{
	1:     "1",
	5:     "5",
	15:    "15",
	30:    "30",
	60:    "60",
	240:   "240",
	1440:  "1440",
	10080: "10080",
	21600: "21600",
}

var ohlcLayout = market.RowLayout{Time: 0, Open: 1, High: 2, Low: 3, Close: 4, Volume: 6, TimeUnit: time.Second}

var canceledLike = market.NewStatusSet(statusCanceled, statusPendingCancel)

var symbolFormat = market.SymbolFormat{
	Aliases:        map[string]string{"BTC": "XBT", "DOGE": "XDG"},
	LegacyPrefixes: true,
}

// envelope is the shape of every response; a non-empty Error means the call
// failed even on HTTP 200.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

var errorKinds = map[string]error{
	"EOrder:Unknown order":         core.ErrOrderNotFound,
	"EOrder:Insufficient funds":    core.ErrInsufficientBalance,
	"EOrder:Order minimum not met": core.ErrOrderRejected,
	"EGeneral:Invalid arguments":   core.ErrOrderRejected,
	"EAPI:Invalid key":             core.ErrInvalidKey,
	"EAPI:Invalid signature":       core.ErrInvalidKey,
}

// APIError carries the error strings of a failed envelope.
type APIError struct {
	Endpoint string
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kraken %s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

func (e *APIError) Unwrap() []error {
	var kinds []error
	for _, m := range e.Messages {
		for prefix, kind := range errorKinds {
			if strings.HasPrefix(m, prefix) {
				kinds = append(kinds, kind)
			}
		}
	}
	return kinds
}

type assetPair struct {
	Altname      string `json:"altname"`
	Wsname       string `json:"wsname"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	PairDecimals int    `json:"pair_decimals"`
	LotDecimals  int    `json:"lot_decimals"`
	OrderMin     string `json:"ordermin"`
	CostMin      string `json:"costmin"`
	TickSize     string `json:"tick_size"`
	Status       string `json:"status"`
}

func (p assetPair) tradable() bool {
	return p.Status == "" || p.Status == pairStatusOnline
}

func (p assetPair) constraints() core.SymbolConstraints {
	tick := market.Dec(p.TickSize)
	if !tick.IsPositive() {
		tick = core.DecimalsToStep(p.PairDecimals)
	}
	return core.SymbolConstraints{
		Symbol:        p.Altname,
		MinQty:        market.Dec(p.OrderMin),
		StepSize:      core.DecimalsToStep(p.LotDecimals),
		MinNotional:   market.Dec(p.CostMin),
		PriceTickSize: tick,
		Source:        "AssetPairs",
	}
}

type tickerInfo struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

type feeInfo struct {
	Fee string `json:"fee"`
}

type tradeVolume struct {
	Fees      map[string]feeInfo `json:"fees"`
	FeesMaker map[string]feeInfo `json:"fees_maker"`
}

// rows pairs each taker fee with its maker fee. Values are percentages.
func (v tradeVolume) rows() []market.FeeRow {
	rows := make([]market.FeeRow, 0, len(v.Fees))
	for pair, taker := range v.Fees {
		maker, ok := v.FeesMaker[pair]
		if !ok {
			maker = taker
		}
		rows = append(rows, market.FeeRow{Maker: market.Dec(maker.Fee), Taker: market.Dec(taker.Fee)}.FromPercent())
	}
	return rows
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type openOrder struct {
	Status  string  `json:"status"`
	OpenTm  float64 `json:"opentm"`
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
}

type openOrdersResult struct {
	Open map[string]openOrder `json:"open"`
}

func (o openOrder) openStatus() (core.OrderStatus, bool) {
	switch o.Status {
	case "open", "pending":
		if market.Dec(o.VolExec).IsPositive() {
			return core.OrderPartiallyFilled, true
		}
		return core.OrderOpen, true
	}
	return "", false
}

type cancelResult struct {
	Count   int  `json:"count"`
	Pending bool `json:"pending"`
}

func (r cancelResult) status() string {
	switch {
	case r.Pending:
		return statusPendingCancel
	case r.Count > 0:
		return statusCanceled
	}
	return statusNotCanceled
}
