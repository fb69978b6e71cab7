package kraken

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
)

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	if err := core.ValidateOrder(req); err != nil {
		return core.OrderResult{}, err
	}
	if req.TimeInForce == core.FOK {
		return core.OrderResult{}, fmt.Errorf("%w: kraken has no fill-or-kill", core.ErrInvalidOrder)
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

	params := url.Values{}
	params.Set("pair", symbol)
	params.Set("type", strings.ToLower(string(req.Side)))
	params.Set("ordertype", strings.ToLower(string(req.Type)))
	params.Set("volume", req.Quantity.String())
	params.Set("cl_ord_id", core.ClientOrderID(req.ClientOrderID, 0))
	if req.Type == core.Limit {
		params.Set("price", req.Price.String())
		if req.TimeInForce == core.IOC {
			params.Set("timeinforce", string(core.IOC))
		}
	}

	var result addOrderResult
	err = c.private(ctx, "AddOrder", params, &result)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// rejections arrive in the envelope of a 200
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{Accepted: false, Message: strings.Join(apiErr.Messages, "; ")}, nil
	}
	if err != nil {
		c.deps.Metrics.RecordOrder(Name, string(req.Side), false)
		return core.OrderResult{}, err
	}
	res := core.OrderResult{Message: result.Descr.Order}
	if len(result.TxID) > 0 && result.TxID[0] != "" {
		res.OrderID = result.TxID[0]
		res.Accepted = true
		c.deps.Orders.Put(res.OrderID, symbol)
	} else {
		res.Message = "no txid returned"
	}
	c.deps.Metrics.RecordOrder(Name, string(req.Side), res.Accepted)
	log.Printf("level=INFO event=order_placed venue=%s symbol=%s order_id=%s accepted=%t", Name, symbol, res.OrderID, res.Accepted)
	return res, nil
}

// OpenOrders returns the account's open orders, restricted to productID
// when given.
func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error) {
	want := ""
	if productID != "" {
		symbol, err := c.symbols.VenueSymbol(productID)
		if err != nil {
			return nil, err
		}
		want = symbol
	}
	var result openOrdersResult
	if err := c.private(ctx, "OpenOrders", nil, &result); err != nil {
		return nil, err
	}
	out := make([]core.OpenOrder, 0, len(result.Open))
	for txid, o := range result.Open {
		status, ok := o.openStatus()
		if !ok {
			continue
		}
		pid, known := c.symbols.ProductID(o.Descr.Pair)
		if want != "" && !c.samePair(o.Descr.Pair, pid, known, want) {
			continue
		}
		if !known {
			pid = productID
		}
		c.deps.Orders.Put(txid, o.Descr.Pair)
		sec, frac := math.Modf(o.OpenTm)
		out = append(out, core.OpenOrder{
			OrderID:   txid,
			ProductID: pid,
			Side:      core.Side(strings.ToUpper(o.Descr.Type)),
			Type:      core.OrderType(strings.ToUpper(o.Descr.OrderType)),
			Price:     market.Dec(o.Descr.Price),
			Quantity:  market.Dec(o.Vol),
			FilledQty: market.Dec(o.VolExec),
			Status:    status,
			CreatedAt: time.Unix(int64(sec), int64(frac*1e9)).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (c *Client) samePair(pair, pid string, known bool, want string) bool {
	if strings.EqualFold(pair, want) {
		return true
	}
	if !known {
		return false
	}
	sym, err := c.symbols.VenueSymbol(pid)
	return err == nil && strings.EqualFold(sym, want)
}

func (c *Client) cancelDirect(ctx context.Context, orderID, _ string) (market.CancelOutcome, error) {
	params := url.Values{}
	params.Set("txid", orderID)
	var result cancelResult
	if err := c.private(ctx, "CancelOrder", params, &result); err != nil {
		return market.CancelOutcome{}, err
	}
	return market.CancelOutcome{Status: result.status()}, nil
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
