package bybit

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

// orderLinkId allows up to 36 characters.
const clientOrderIDMaxLen = 36

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	const path = "/v5/order/create"
	if err := core.ValidateOrder(req); err != nil {
		return core.OrderResult{}, err
	}
	symbol, err := c.symbols.VenueSymbol(req.ProductID)
	if err != nil {
		return core.OrderResult{}, err
	}
	constraints, err := c.deps.Constraints.Get(ctx, symbol, c.loadConstraints)
	if err != nil {
		return core.OrderResult{}, err
	}
	if req, err = core.NormalizeOrder(req, constraints); err != nil {
		return core.OrderResult{}, err
	}

	body := createRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        titleCase(string(req.Side)),
		OrderType:   titleCase(string(req.Type)),
		Qty:         req.Quantity.String(),
		OrderLinkID: core.ClientOrderID(req.ClientOrderID, clientOrderIDMaxLen),
	}
	if req.Type == core.Limit {
		body.Price = req.Price.String()
		body.TimeInForce = string(core.GTC)
		if req.TimeInForce != "" {
			body.TimeInForce = string(req.TimeInForce)
		}
	} else {
		body.MarketUnit = "baseCoin"
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, body, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{Message: strconv.Itoa(apiErr.Code) + ": " + apiErr.Msg}, nil
	}
	if err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	var ack orderAck
	if err := decode(path, data, &ack); err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	res := core.OrderResult{Message: "no order id returned"}
	if ack.OrderID != "" {
		res = core.OrderResult{OrderID: ack.OrderID, Accepted: true}
		c.deps.Orders.Put(res.OrderID, symbol)
	}
	c.deps.Metrics.RecordOrder(Name, string(req.Side), res.Accepted)
	log.Printf("level=INFO event=order_placed venue=%s symbol=%s order_id=%s accepted=%t", Name, symbol, res.OrderID, res.Accepted)
	return res, nil
}

// OpenOrders pages /v5/order/realtime by cursor.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	const path = "/v5/order/realtime"
	q := spotQuery()
	q.Set("limit", strconv.Itoa(realtimePageMax))
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		q.Set("symbol", symbol)
	}
	var out []core.OpenOrder
	seen := map[string]bool{}
	for {
		data, err := c.do(ctx, http.MethodGet, path, q, nil, true)
		if err != nil {
			return nil, err
		}
		var res realtimeResult
		if err := decode(path, data, &res); err != nil {
			return nil, err
		}
		for _, o := range res.List {
			status, ok := o.openStatus()
			if !ok {
				continue
			}
			c.deps.Orders.Put(o.OrderID, o.Symbol)
			pid, known := c.symbols.ProductID(o.Symbol)
			if !known {
				pid = productID
			}
			out = append(out, core.OpenOrder{
				OrderID:   o.OrderID,
				ProductID: pid,
				Side:      core.Side(strings.ToUpper(o.Side)),
				Type:      core.OrderType(strings.ToUpper(o.OrderType)),
				Price:     market.Dec(o.Price),
				Quantity:  market.Dec(o.Qty),
				FilledQty: market.Dec(o.CumExecQty),
				Status:    status,
				CreatedAt: o.createdAt(),
			})
		}
		if res.NextPageCursor == "" || seen[res.NextPageCursor] {
			return out, nil
		}
		seen[res.NextPageCursor] = true
		q.Set("cursor", res.NextPageCursor)
	}
}

// cancelDirect reads retCode 0 as canceled only when the ack echoes the
// order id; the endpoint returns nothing else.
func (c *Client) cancelDirect(ctx context.Context, orderID, symbol string) (market.CancelOutcome, error) {
	const path = "/v5/order/cancel"
	data, err := c.do(ctx, http.MethodPost, path, nil, cancelRequest{Category: category, Symbol: symbol, OrderID: orderID}, true)
	if err != nil {
		return market.CancelOutcome{}, err
	}
	var ack orderAck
	if err := decode(path, data, &ack); err != nil {
		return market.CancelOutcome{}, err
	}
	switch ack.OrderID {
	case orderID:
		return market.CancelOutcome{Status: statusCanceled}, nil
	case "":
		return market.CancelOutcome{Status: statusUnconfirmed, Message: "cancel ack carried no order id"}, nil
	default:
		return market.CancelOutcome{Status: statusMismatch, Message: "venue acknowledged order " + ack.OrderID}, nil
	}
}

func (c *Client) locate(ctx context.Context, orderID string) (string, bool, error) {
	orders, err := c.OpenOrders(ctx, "")
	if err != nil {
		return "", false, err
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			symbol, ok := c.deps.Orders.Get(orderID)
			return symbol, ok, nil
		}
	}
	return "", false, nil
}

func (c *Client) canceler() market.Canceler {
	return market.Canceler{
		Venue:        Name,
		NeedsSymbol:  true,
		CanceledLike: canceledLike,
		Symbols:      c.deps.Orders,
		Metrics:      c.deps.Metrics,
		Direct:       c.cancelDirect,
		Locate:       c.locate,
	}
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (core.CancelResult, error) {
	return c.canceler().Cancel(ctx, orderID)
}

func (c *Client) CancelAllOpenOrders(ctx context.Context, productID string) (core.CancelAllResult, error) {
	orders, err := c.OpenOrders(ctx, productID)
	if err != nil {
		return core.CancelAllResult{ProductID: productID}, err
	}
	cancel := c.canceler()
	return market.CancelEach(ctx, productID, orders, func(ctx context.Context, o core.OpenOrder) (core.CancelResult, error) {
		return cancel.Cancel(ctx, o.OrderID)
	})
}
