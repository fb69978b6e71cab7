package binance

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const clientOrderIDMaxLen = 36

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	const endpoint = "/api/v3/order"
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
	req, err = core.NormalizeOrder(req, constraints)
	if err != nil {
		return core.OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(sideType(req.Side)))
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", core.ClientOrderID(req.ClientOrderID, clientOrderIDMaxLen))
	params.Set("newOrderRespType", "FULL")
	if req.Type == core.Limit {
		params.Set("type", string(gobinance.OrderTypeLimit))
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(timeInForce(req.TimeInForce)))
	} else {
		params.Set("type", string(gobinance.OrderTypeMarket))
	}

	body, err := c.doRequest(ctx, http.MethodPost, endpoint, params, AuthSigned)
	if err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	var resp gobinance.CreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, core.NewProtocolError(Name, endpoint, body, err)
	}
	res := orderResult(resp)
	if res.Accepted {
		c.deps.Orders.Put(res.OrderID, symbol)
	}
	c.deps.Metrics.RecordOrder(Name, string(req.Side), res.Accepted)
	log.Printf("level=INFO event=order_placed venue=%s symbol=%s order_id=%s accepted=%t status=%s", Name, symbol, res.OrderID, res.Accepted, resp.Status)
	return res, nil
}

// OpenOrders lists working orders for productID, or for every symbol when
// productID is empty. Each row refreshes the order-id to symbol map.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	const endpoint = "/api/v3/openOrders"
	params := url.Values{}
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		params.Set("symbol", symbol)
	}
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, params, AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp []gobinance.Order
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewProtocolError(Name, endpoint, body, err)
	}
	orders := make([]core.OpenOrder, 0, len(resp))
	for _, ord := range resp {
		status, ok := openStatus(ord.Status)
		if !ok {
			continue
		}
		id := formatID(ord.OrderID)
		c.deps.Orders.Put(id, ord.Symbol)
		pid, known := c.symbols.ProductID(ord.Symbol)
		if !known {
			pid = productID
		}
		o := core.OpenOrder{
			OrderID:   id,
			ProductID: pid,
			Side:      core.Side(ord.Side),
			Type:      core.OrderType(ord.Type),
			Price:     market.Dec(ord.Price),
			Quantity:  market.Dec(ord.OrigQuantity),
			FilledQty: market.Dec(ord.ExecutedQuantity),
			Status:    status,
		}
		if ord.Time > 0 {
			o.CreatedAt = time.UnixMilli(ord.Time).UTC()
		}
		orders = append(orders, o)
	}
	return orders, nil
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

func (c *Client) cancelDirect(ctx context.Context, orderID, symbol string) (market.CancelOutcome, error) {
	const endpoint = "/api/v3/order"
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doRequest(ctx, http.MethodDelete, endpoint, params, AuthSigned)
	if err != nil {
		return market.CancelOutcome{}, err
	}
	var resp gobinance.CancelOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return market.CancelOutcome{}, core.NewProtocolError(Name, endpoint, body, err)
	}
	return market.CancelOutcome{Status: string(resp.Status)}, nil
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
