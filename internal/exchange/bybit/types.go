package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	category        = "spot"
	klinePageLimit  = 1000
	realtimePageMax = 50

	statusTrading  = "Trading"
	statusCanceled = "CANCELED"
	// outcomes of an ack that does not confirm the cancel
	statusUnconfirmed = "UNCONFIRMED"
	statusMismatch    = "MISMATCH"

	codeOrderNotFound       = 170213
	codeInsufficientBalance = 170131
	codeDuplicateLinkID     = 170141
)

var granularities = market.Granularities{
	1:     "1",
	3:     "3",
	5:     "5",
	15:    "15",
	30:    "30",
	60:    "60",
	120:   "120",
	240:   "240",
	360:   "360",
	720:   "720",
	1440:  "D",
	10080: "W",
}

var klineLayout = market.RowLayout{Time: 0, Open: 1, High: 2, Low: 3, Close: 4, Volume: 5, TimeUnit: time.Millisecond}

var canceledLike = market.NewStatusSet(statusCanceled, "Cancelled")

// envelope wraps every v5 response; retCode 0 is success.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type instrumentsResult struct {
	List []instrument `json:"list"`
}

type instrument struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		MinOrderQty   string `json:"minOrderQty"`
		MaxOrderQty   string `json:"maxOrderQty"`
		MinOrderAmt   string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

func (i instrument) tradable() bool { return i.Status == statusTrading }

func (i instrument) constraints() core.SymbolConstraints {
	return core.SymbolConstraints{
		Symbol:        i.Symbol,
		MinQty:        market.Dec(i.LotSizeFilter.MinOrderQty),
		MaxQty:        market.Dec(i.LotSizeFilter.MaxOrderQty),
		StepSize:      market.Dec(i.LotSizeFilter.BasePrecision),
		MinNotional:   market.Dec(i.LotSizeFilter.MinOrderAmt),
		PriceTickSize: market.Dec(i.PriceFilter.TickSize),
		Source:        "instruments-info",
	}
}

type klineResult struct {
	Symbol string              `json:"symbol"`
	List   [][]json.RawMessage `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type tradesResult struct {
	List []struct {
		Price string `json:"price"`
	} `json:"list"`
}

type feeRateResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		MakerFeeRate string `json:"makerFeeRate"`
		TakerFeeRate string `json:"takerFeeRate"`
	} `json:"list"`
}

type createRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	MarketUnit  string `json:"marketUnit,omitempty"`
}

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type cancelRequest struct {
	Category string `json:"category"`
	Symbol   string `json:"symbol"`
	OrderID  string `json:"orderId"`
}

type realtimeResult struct {
	List           []realtimeOrder `json:"list"`
	NextPageCursor string          `json:"nextPageCursor"`
}

type realtimeOrder struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

func (o realtimeOrder) openStatus() (core.OrderStatus, bool) {
	switch o.OrderStatus {
	case "New", "Untriggered":
		return core.OrderOpen, true
	case "PartiallyFilled":
		return core.OrderPartiallyFilled, true
	}
	return "", false
}

func (o realtimeOrder) createdAt() time.Time {
	ms, err := strconv.ParseInt(o.CreatedTime, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// titleCase renders BUY as Buy and LIMIT as Limit.
func titleCase(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// APIError is a non-zero retCode.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: retCode %d: %s", e.Endpoint, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeOrderNotFound:
		return core.ErrOrderNotFound
	case codeInsufficientBalance:
		return core.ErrInsufficientBalance
	case codeDuplicateLinkID:
		return core.ErrDuplicateOrder
	}
	if strings.Contains(strings.ToLower(e.Msg), "order does not exist") {
		return core.ErrOrderNotFound
	}
	return nil
}
