package coinbase

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	const endpoint = "/api/v3/brokerage/orders"
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

	payload := createOrderRequest{
		ClientOrderID:      core.ClientOrderID(req.ClientOrderID, clientOrderIDMaxLen),
		ProductID:          symbol,
		Side:               string(req.Side),
		OrderConfiguration: orderConfiguration(req),
	}
	body, err := c.do(ctx, http.MethodPost, endpoint, nil, payload, true)
	if err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	var resp createOrderResponse
	if err := decode(endpoint, body, &resp); err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	res := resp.result()
	if res.Accepted {
		c.deps.Orders.Put(res.OrderID, symbol)
	}
	c.deps.Metrics.RecordOrder(Name, string(req.Side), res.Accepted)
	log.Printf("level=INFO event=order_placed venue=%s symbol=%s order_id=%s accepted=%t", Name, symbol, res.OrderID, res.Accepted)
	return res, nil
}

func orderConfiguration(req core.OrderRequest) map[string]orderConfig {
	size := req.Quantity.String()
	if req.Type == core.Market {
		return map[string]orderConfig{orderConfigMarketIOC: {BaseSize: size}}
	}
	price := req.Price.String()
	switch req.TimeInForce {
	case core.IOC:
		return map[string]orderConfig{orderConfigLimitIOC: {BaseSize: size, LimitPrice: price}}
	case core.FOK:
		return map[string]orderConfig{orderConfigLimitFOK: {BaseSize: size, LimitPrice: price}}
	}
	postOnly := false
	return map[string]orderConfig{orderConfigLimitGTC: {BaseSize: size, LimitPrice: price, PostOnly: &postOnly}}
}

// OpenOrders walks the historical batch endpoint filtered to OPEN orders,
// following the cursor until the venue reports no more pages.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	const endpoint = "/api/v3/brokerage/orders/historical/batch"
	q := url.Values{}
	q.Set("order_status", orderStatusOpen)
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		q.Set("product_ids", symbol)
	}
	var out []core.OpenOrder
	for page := 0; page < 100; page++ {
		body, err := c.do(ctx, http.MethodGet, endpoint, q, nil, true)
		if err != nil {
			return nil, err
		}
		var resp historicalOrdersResponse
		if err := decode(endpoint, body, &resp); err != nil {
			return nil, err
		}
		for _, o := range resp.Orders {
			status, ok := o.openStatus()
			if !ok {
				continue
			}
			c.deps.Orders.Put(o.OrderID, o.ProductID)
			cfg := o.config()
			pid, known := c.symbols.ProductID(o.ProductID)
			if !known {
				pid = strings.ReplaceAll(o.ProductID, "-", "/")
			}
			row := core.OpenOrder{
				OrderID:   o.OrderID,
				ProductID: pid,
				Side:      core.Side(strings.ToUpper(o.Side)),
				Type:      core.OrderType(strings.ToUpper(o.OrderType)),
				Price:     market.Dec(cfg.LimitPrice),
				Quantity:  market.Dec(cfg.BaseSize),
				FilledQty: market.Dec(o.FilledSize),
				Status:    status,
			}
			if ts, err := time.Parse(time.RFC3339Nano, o.CreatedTime); err == nil {
				row.CreatedAt = ts.UTC()
			}
			out = append(out, row)
		}
		if !resp.HasNext || resp.Cursor == "" {
			break
		}
		q.Set("cursor", resp.Cursor)
	}
	return out, nil
}

// batchCancel cancels ids in chunks and returns one outcome per id. Ids the
// venue omits from its reply are reported as unconfirmed.
func (c *Client) batchCancel(ctx context.Context, ids []string) (map[string]market.CancelOutcome, error) {
	const endpoint = "/api/v3/brokerage/orders/batch_cancel"
	out := make(map[string]market.CancelOutcome, len(ids))
	for startIdx := 0; startIdx < len(ids); startIdx += batchCancelSize {
		chunk := ids[startIdx:min(startIdx+batchCancelSize, len(ids))]
		body, err := c.do(ctx, http.MethodPost, endpoint, nil, batchCancelRequest{OrderIDs: chunk}, true)
		if err != nil {
			return out, err
		}
		var resp batchCancelResponse
		if err := decode(endpoint, body, &resp); err != nil {
			return out, err
		}
		for _, r := range resp.Results {
			if r.Success {
				out[r.OrderID] = market.CancelOutcome{Status: statusCancelled}
				continue
			}
			out[r.OrderID] = market.CancelOutcome{Status: r.FailureReason, Message: r.FailureReason}
		}
	}
	return out, nil
}

func (c *Client) cancelDirect(ctx context.Context, orderID, _ string) (market.CancelOutcome, error) {
	outcomes, err := c.batchCancel(ctx, []string{orderID})
	if err != nil {
		return market.CancelOutcome{}, err
	}
	out, ok := outcomes[orderID]
	if !ok {
		return market.CancelOutcome{}, fmt.Errorf("%w: coinbase returned no result for %s", core.ErrCancelUnconfirmed, orderID)
	}
	if strings.EqualFold(out.Status, failureUnknownOrder) {
		return out, fmt.Errorf("%w: coinbase %s", core.ErrOrderNotFound, orderID)
	}
	return out, nil
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

func (c *Client) CancelOrder(ctx context.Context, orderID string) (core.CancelResult, error) {
	return market.Canceler{
		Venue:        Name,
		CanceledLike: canceledLike,
		Symbols:      c.deps.Orders,
		Metrics:      c.deps.Metrics,
		Direct:       c.cancelDirect,
		Locate:       c.locate,
	}.Cancel(ctx, orderID)
}

// CancelAllOpenOrders sends every open id for productID through the batch
// endpoint and requires each item to come back successful.
func (c *Client) CancelAllOpenOrders(ctx context.Context, productID string) (core.CancelAllResult, error) {
	orders, err := c.OpenOrders(ctx, productID)
	if err != nil {
		return core.CancelAllResult{ProductID: productID}, err
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID)
	}
	outcomes, batchErr := c.batchCancel(ctx, ids)
	attempts := make([]market.CancelAttempt, 0, len(ids))
	for _, id := range ids {
		res := core.CancelResult{OrderID: id}
		out, ok := outcomes[id]
		var itemErr error
		switch {
		case !ok && batchErr != nil:
			itemErr = batchErr
		case !ok:
			itemErr = fmt.Errorf("no result for order %s", id)
		default:
			res.Status, res.Message = out.Status, out.Message
			res.Canceled = canceledLike.Has(out.Status)
		}
		if res.Canceled {
			c.deps.Orders.Delete(id)
		}
		c.deps.Metrics.RecordCancel(Name, res.Canceled)
		attempts = append(attempts, market.CancelAttempt{Result: res, Err: itemErr})
	}
	return market.Summarize(productID, attempts)
}
