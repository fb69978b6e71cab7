package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	// history-candles returns at most 100 rows per call.
	candlePageLimit = 100
	pendingPageSize = 100

	stateLive            = "live"
	statePartiallyFilled = "partially_filled"
	statusCanceled       = "CANCELED"
	statusUnconfirmed    = "UNCONFIRMED"

	codeOK = "0"
)

var granularities = market.Granularities{
	1:     "1m",
	3:     "3m",
	5:     "5m",
	15:    "15m",
	30:    "30m",
	60:    "1H",
	120:   "2H",
	240:   "4H",
	360:   "6Hutc",
	720:   "12Hutc",
	1440:  "1Dutc",
	10080: "1Wutc",
}

var candleLayout = market.RowLayout{Time: 0, Open: 1, High: 2, Low: 3, Close: 4, Volume: 5, TimeUnit: time.Millisecond}

var canceledLike = market.NewStatusSet(statusCanceled)

// notFoundCodes are the sCodes of a cancel on an order the venue no longer
// holds as working.
var notFoundCodes = map[string]bool{
	"51400": true,
	"51401": true,
	"51402": true,
	"51603": true,
}

var insufficientCodes = map[string]bool{
	"51008": true,
	"51119": true,
	"51131": true,
}

// envelope is the {"code","msg","data"} wrapper of every v5 response.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type instrument struct {
	InstID   string `json:"instId"`
	BaseCcy  string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	MaxLmtSz string `json:"maxLmtSz"`
	TickSz   string `json:"tickSz"`
	State    string `json:"state"`
}

func (i instrument) tradable() bool { return i.State == stateLive }

func (i instrument) constraints() core.SymbolConstraints {
	return core.SymbolConstraints{
		Symbol:        i.InstID,
		MinQty:        market.Dec(i.MinSz),
		MaxQty:        market.Dec(i.MaxLmtSz),
		StepSize:      market.Dec(i.LotSz),
		PriceTickSize: market.Dec(i.TickSz),
		Source:        "instruments",
	}
}

type ticker struct {
	Last  string `json:"last"`
	BidPx string `json:"bidPx"`
	AskPx string `json:"askPx"`
}

type trade struct {
	Px string `json:"px"`
}

// tradeFee rates are negative when the account pays them; a positive maker
// rate is a rebate and counts as zero cost.
type tradeFee struct {
	Maker string `json:"maker"`
	Taker string `json:"taker"`
}

func (f tradeFee) row() market.FeeRow {
	return market.FeeRow{
		Maker: decimal.Max(decimal.Zero, market.Dec(f.Maker).Neg()),
		Taker: decimal.Max(decimal.Zero, market.Dec(f.Taker).Neg()),
	}
}

type placeRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// ackRow is the per-order result of a place or cancel call.
type ackRow struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type cancelRequest struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

type pendingOrder struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	State     string `json:"state"`
	CTime     string `json:"cTime"`
}

func (o pendingOrder) openStatus() (core.OrderStatus, bool) {
	switch o.State {
	case stateLive:
		return core.OrderOpen, true
	case statePartiallyFilled:
		return core.OrderPartiallyFilled, true
	}
	return "", false
}

func (o pendingOrder) orderType() core.OrderType {
	if o.OrdType == "market" {
		return core.Market
	}
	return core.Limit
}

func (o pendingOrder) createdAt() time.Time {
	ms, err := strconv.ParseInt(o.CTime, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func ordType(req core.OrderRequest) string {
	if req.Type == core.Market {
		return "market"
	}
	switch req.TimeInForce {
	case core.IOC:
		return "ioc"
	case core.FOK:
		return "fok"
	}
	return "limit"
}

// APIError is a non-zero code at the envelope or per-order level.
type APIError struct {
	Endpoint string
	Code     string
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx %s: code %s: %s", e.Endpoint, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	switch {
	case notFoundCodes[e.Code]:
		return core.ErrOrderNotFound
	case insufficientCodes[e.Code]:
		return core.ErrInsufficientBalance
	case e.Code == "51016":
		return core.ErrDuplicateOrder
	case strings.Contains(strings.ToLower(e.Msg), "does not exist"):
		return core.ErrOrderNotFound
	}
	return nil
}
