package okx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

// clOrdId allows up to 32 alphanumerics.
const clientOrderIDMaxLen = 32

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	const path = "/api/v5/trade/order"
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

	body := placeRequest{
		InstID:  symbol,
		TdMode:  "cash",
		Side:    strings.ToLower(string(req.Side)),
		OrdType: ordType(req),
		Sz:      req.Quantity.String(),
		ClOrdID: strings.ReplaceAll(core.ClientOrderID(req.ClientOrderID, clientOrderIDMaxLen), "-", ""),
	}
	if req.Type == core.Limit {
		body.Px = req.Price.String()
	} else {
		// market buys are sized in quote currency unless told otherwise
		body.TgtCcy = "base_ccy"
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, body, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{Message: apiErr.Code + ": " + apiErr.Msg}, nil
	}
	if err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	var rows []ackRow
	if err := decode(path, data, &rows); err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	res := core.OrderResult{Message: "no order id returned"}
	if len(rows) > 0 && rows[0].OrdID != "" && (rows[0].SCode == "" || rows[0].SCode == codeOK) {
		res = core.OrderResult{OrderID: rows[0].OrdID, Accepted: true}
		c.deps.Orders.Put(res.OrderID, symbol)
	}
	c.deps.Metrics.RecordOrder(Name, string(req.Side), res.Accepted)
	log.Printf("level=INFO event=order_placed venue=%s symbol=%s order_id=%s accepted=%t", Name, symbol, res.OrderID, res.Accepted)
	return res, nil
}

// OpenOrders follows the ordId cursor of orders-pending until a short page.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	const path = "/api/v5/trade/orders-pending"
	q := url.Values{}
	q.Set("instType", "SPOT")
	q.Set("limit", strconv.Itoa(pendingPageSize))
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		q.Set("instId", symbol)
	}
	var out []core.OpenOrder
	for {
		data, err := c.do(ctx, http.MethodGet, path, q, nil, true)
		if err != nil {
			return nil, err
		}
		var rows []pendingOrder
		if err := decode(path, data, &rows); err != nil {
			return nil, err
		}
		for _, o := range rows {
			status, ok := o.openStatus()
			if !ok {
				continue
			}
			c.deps.Orders.Put(o.OrdID, o.InstID)
			pid, known := c.symbols.ProductID(o.InstID)
			if !known {
				if base, quote, err := core.ParseProduct(o.InstID); err == nil {
					pid = core.ProductID(base, quote)
				}
			}
			out = append(out, core.OpenOrder{
				OrderID:   o.OrdID,
				ProductID: pid,
				Side:      core.Side(strings.ToUpper(o.Side)),
				Type:      o.orderType(),
				Price:     market.Dec(o.Px),
				Quantity:  market.Dec(o.Sz),
				FilledQty: market.Dec(o.AccFillSz),
				Status:    status,
				CreatedAt: o.createdAt(),
			})
		}
		if len(rows) < pendingPageSize || rows[len(rows)-1].OrdID == q.Get("after") {
			return out, nil
		}
		q.Set("after", rows[len(rows)-1].OrdID)
	}
}

// cancelDirect treats an accepted cancel (sCode 0) as canceled; OKX reports
// no order state on this endpoint.
func (c *Client) cancelDirect(ctx context.Context, orderID, symbol string) (market.CancelOutcome, error) {
	const path = "/api/v5/trade/cancel-order"
	data, err := c.do(ctx, http.MethodPost, path, nil, cancelRequest{InstID: symbol, OrdID: orderID}, true)
	if err != nil {
		return market.CancelOutcome{}, err
	}
	var rows []ackRow
	if err := decode(path, data, &rows); err != nil {
		return market.CancelOutcome{}, err
	}
	if len(rows) == 0 {
		return market.CancelOutcome{}, core.NewProtocolError(Name, path, data, errors.New("empty cancel ack"))
	}
	row := rows[0]
	if row.SCode != "" && row.SCode != codeOK {
		return market.CancelOutcome{}, &APIError{Endpoint: path, Code: row.SCode, Msg: row.SMsg}
	}
	if row.SCode != codeOK || row.OrdID != orderID {
		return market.CancelOutcome{Status: statusUnconfirmed, Message: fmt.Sprintf("ack sCode=%q ordId=%q", row.SCode, row.OrdID)}, nil
	}
	return market.CancelOutcome{Status: statusCanceled, Message: row.SMsg}, nil
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
