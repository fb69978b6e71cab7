package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// Open-order view statuses. Venue vocabularies are folded onto these two;
// anything else is dropped from OpenOrders.
const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
)

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type Ticker struct {
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	ObservedAt time.Time       `json:"observed_at"`
}

type FeeSchedule struct {
	MakerRate decimal.Decimal `json:"maker_rate"`
	TakerRate decimal.Decimal `json:"taker_rate"`
	Notes     string          `json:"notes,omitempty"`
}

type SymbolConstraints struct {
	Symbol        string          `json:"symbol"`
	MinQty        decimal.Decimal `json:"min_qty"`
	MaxQty        decimal.Decimal `json:"max_qty"`
	StepSize      decimal.Decimal `json:"step_size"`
	MinNotional   decimal.Decimal `json:"min_notional"`
	PriceTickSize decimal.Decimal `json:"price_tick_size"`
	Source        string          `json:"source"`
}

type Product struct {
	ID          string `json:"id"`
	VenueSymbol string `json:"venue_symbol"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	Active      bool   `json:"active"`
}

type OrderRequest struct {
	ProductID     string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type OrderResult struct {
	OrderID      string          `json:"order_id"`
	Accepted     bool            `json:"accepted"`
	Filled       bool            `json:"filled"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Message      string          `json:"message,omitempty"`
}

type OpenOrder struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type CancelResult struct {
	OrderID  string `json:"order_id"`
	Symbol   string `json:"symbol,omitempty"`
	Canceled bool   `json:"canceled"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
}

type CancelAllResult struct {
	ProductID string   `json:"product_id"`
	Requested int      `json:"requested"`
	Canceled  int      `json:"canceled"`
	Failed    []string `json:"failed,omitempty"`
	Success   bool     `json:"success"`
}

// Credentials carries whatever a venue needs to sign. HMAC venues use
// APIKey/APISecret (and Passphrase on OKX); the JWT venue uses
// KeyName/PrivateKey.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	KeyName    string
	PrivateKey string
}
