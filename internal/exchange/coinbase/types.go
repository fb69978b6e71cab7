package coinbase

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const (
	candlePageLimit = 300
	batchCancelSize = 100

	statusCancelled      = "CANCELLED"
	failureUnknownOrder  = "UNKNOWN_CANCEL_ORDER"
	clientOrderIDMaxLen  = 0
	productStatusOnline  = "online"
	orderStatusOpen      = "OPEN"
	orderStatusPending   = "PENDING"
	orderStatusQueued    = "QUEUED"
	orderConfigLimitGTC  = "limit_limit_gtc"
	orderConfigLimitFOK  = "limit_limit_fok"
	orderConfigLimitIOC  = "sor_limit_ioc"
	orderConfigMarketIOC = "market_market_ioc"
)

var granularities = market.Granularities{
	1:    "ONE_MINUTE",
	5:    "FIVE_MINUTE",
	15:   "FIFTEEN_MINUTE",
	30:   "THIRTY_MINUTE",
	60:   "ONE_HOUR",
	120:  "TWO_HOUR",
	360:  "SIX_HOUR",
	1440: "ONE_DAY",
}

// Cancel confirmation is per item; a successful item is reported with this
// status.
var canceledLike = market.NewStatusSet(statusCancelled)

type productResponse struct {
	ProductID       string `json:"product_id"`
	BaseCurrencyID  string `json:"base_currency_id"`
	QuoteCurrencyID string `json:"quote_currency_id"`
	BaseIncrement   string `json:"base_increment"`
	QuoteIncrement  string `json:"quote_increment"`
	PriceIncrement  string `json:"price_increment"`
	BaseMinSize     string `json:"base_min_size"`
	BaseMaxSize     string `json:"base_max_size"`
	QuoteMinSize    string `json:"quote_min_size"`
	MinMarketFunds  string `json:"min_market_funds"`
	Price           string `json:"price"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
	IsDisabled      bool   `json:"is_disabled"`
}

type productsResponse struct {
	Products []productResponse `json:"products"`
}

func (p productResponse) tradable() bool {
	return strings.EqualFold(p.Status, productStatusOnline) && !p.TradingDisabled && !p.IsDisabled
}

func (p productResponse) constraints() core.SymbolConstraints {
	tick := market.Dec(p.PriceIncrement)
	if !tick.IsPositive() {
		tick = market.Dec(p.QuoteIncrement)
	}
	notional := market.Dec(p.QuoteMinSize)
	if !notional.IsPositive() {
		notional = market.Dec(p.MinMarketFunds)
	}
	return core.SymbolConstraints{
		Symbol:        p.ProductID,
		MinQty:        market.Dec(p.BaseMinSize),
		MaxQty:        market.Dec(p.BaseMaxSize),
		StepSize:      market.Dec(p.BaseIncrement),
		MinNotional:   notional,
		PriceTickSize: tick,
		Source:        "products",
	}
}

type candleResponse struct {
	Start  json.RawMessage `json:"start"`
	Low    decimal.Decimal `json:"low"`
	High   decimal.Decimal `json:"high"`
	Open   decimal.Decimal `json:"open"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type candlesResponse struct {
	Candles []candleResponse `json:"candles"`
}

type tickerResponse struct {
	Trades []struct {
		Price string `json:"price"`
	} `json:"trades"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type transactionSummary struct {
	FeeTier struct {
		PricingTier  string `json:"pricing_tier"`
		MakerFeeRate string `json:"maker_fee_rate"`
		TakerFeeRate string `json:"taker_fee_rate"`
	} `json:"fee_tier"`
}

type orderConfig struct {
	BaseSize   string `json:"base_size,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
	PostOnly   *bool  `json:"post_only,omitempty"`
}

type createOrderRequest struct {
	ClientOrderID      string                 `json:"client_order_id"`
	ProductID          string                 `json:"product_id"`
	Side               string                 `json:"side"`
	OrderConfiguration map[string]orderConfig `json:"order_configuration"`
}

type createOrderResponse struct {
	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason"`
	OrderID         string `json:"order_id"`
	SuccessResponse struct {
		OrderID       string `json:"order_id"`
		ProductID     string `json:"product_id"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error                 string `json:"error"`
		Message               string `json:"message"`
		ErrorDetails          string `json:"error_details"`
		PreviewFailureReason  string `json:"preview_failure_reason"`
		NewOrderFailureReason string `json:"new_order_failure_reason"`
	} `json:"error_response"`
}

// result classifies a placement: success flag, then the nested id, then the
// top-level id. The message comes from the most specific failure field.
func (r createOrderResponse) result() core.OrderResult {
	id := r.SuccessResponse.OrderID
	if id == "" {
		id = r.OrderID
	}
	res := core.OrderResult{OrderID: id, Accepted: r.Success && id != ""}
	if !res.Accepted {
		for _, m := range []string{
			r.ErrorResponse.Message,
			r.ErrorResponse.ErrorDetails,
			r.ErrorResponse.PreviewFailureReason,
			r.ErrorResponse.NewOrderFailureReason,
			r.ErrorResponse.Error,
			r.FailureReason,
		} {
			if strings.TrimSpace(m) != "" {
				res.Message = m
				break
			}
		}
		if res.Message == "" {
			res.Message = "order not accepted"
		}
	}
	return res
}

type historicalOrder struct {
	OrderID            string                 `json:"order_id"`
	ProductID          string                 `json:"product_id"`
	Side               string                 `json:"side"`
	Status             string                 `json:"status"`
	OrderType          string                 `json:"order_type"`
	CreatedTime        string                 `json:"created_time"`
	FilledSize         string                 `json:"filled_size"`
	AverageFilledPrice string                 `json:"average_filled_price"`
	OrderConfiguration map[string]orderConfig `json:"order_configuration"`
}

type historicalOrdersResponse struct {
	Orders  []historicalOrder `json:"orders"`
	HasNext bool              `json:"has_next"`
	Cursor  string            `json:"cursor"`
}

func (o historicalOrder) config() orderConfig {
	for _, cfg := range o.OrderConfiguration {
		return cfg
	}
	return orderConfig{}
}

func (o historicalOrder) openStatus() (core.OrderStatus, bool) {
	switch strings.ToUpper(o.Status) {
	case orderStatusOpen, orderStatusPending, orderStatusQueued:
		if market.Dec(o.FilledSize).IsPositive() {
			return core.OrderPartiallyFilled, true
		}
		return core.OrderOpen, true
	}
	return "", false
}

type batchCancelRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type batchCancelResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		FailureReason string `json:"failure_reason"`
		OrderID       string `json:"order_id"`
	} `json:"results"`
}
