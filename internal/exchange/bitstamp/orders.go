package bitstamp

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

const datetimeLayout = "2006-01-02 15:04:05"

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
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

	side := strings.ToLower(string(req.Side))
	params := url.Values{}
	params.Set("amount", req.Quantity.String())
	params.Set("client_order_id", core.ClientOrderID(req.ClientOrderID, 0))
	path := "/api/v2/" + side + "/market/" + symbol + "/"
	if req.Type == core.Limit {
		path = "/api/v2/" + side + "/" + symbol + "/"
		params.Set("price", req.Price.String())
		switch req.TimeInForce {
		case core.IOC:
			params.Set("ioc_order", "True")
		case core.FOK:
			params.Set("fok_order", "True")
		}
	}

	var resp orderResponse
	err = c.private(ctx, path, params, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{Message: apiErr.Message}, nil
	}
	if err != nil {
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

// OpenOrders lists working orders across all pairs or for a single one.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	path := "/api/v2/open_orders/all/"
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		path = "/api/v2/open_orders/" + symbol + "/"
	}
	var rows []openOrder
	if err := c.private(ctx, path, url.Values{}, &rows); err != nil {
		return nil, err
	}
	out := make([]core.OpenOrder, 0, len(rows))
	for _, o := range rows {
		id := o.ID.String()
		if id == "" {
			continue
		}
		pid := productID
		if o.CurrencyPair != "" {
			if base, quote, err := core.ParseProduct(o.CurrencyPair); err == nil {
				pid = core.ProductID(base, quote)
			}
		}
		if pid != "" {
			if symbol, err := c.symbols.VenueSymbol(pid); err == nil {
				c.deps.Orders.Put(id, symbol)
			}
		}
		ord := core.OpenOrder{
			OrderID:   id,
			ProductID: pid,
			Side:      o.side(),
			Type:      core.Limit,
			Price:     market.Dec(o.Price),
			Quantity:  market.Dec(o.Amount),
			Status:    core.OrderOpen,
		}
		if ts, err := time.ParseInLocation(datetimeLayout, o.Datetime, time.UTC); err == nil {
			ord.CreatedAt = ts
		}
		out = append(out, ord)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// cancelDirect cancels by id, then reads the order's status since the cancel
// response itself carries none.
func (c *Client) cancelDirect(ctx context.Context, orderID, _ string) (market.CancelOutcome, error) {
	params := url.Values{}
	params.Set("id", orderID)
	var canceled cancelResponse
	if err := c.private(ctx, "/api/v2/cancel_order/", params, &canceled); err != nil {
		return market.CancelOutcome{}, err
	}
	var status orderStatusResponse
	if err := c.private(ctx, "/api/v2/order_status/", params, &status); err != nil {
		return market.CancelOutcome{}, err
	}
	return market.CancelOutcome{Status: status.Status}, nil
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
