package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hashicorp/go-multierror"

	"spot-connect/internal/core"
	"spot-connect/internal/metrics"
)

// StatusSet is a case-insensitive set of venue order statuses.
type StatusSet map[string]struct{}

func NewStatusSet(statuses ...string) StatusSet {
	s := make(StatusSet, len(statuses))
	for _, st := range statuses {
		s[strings.ToUpper(strings.TrimSpace(st))] = struct{}{}
	}
	return s
}

func (s StatusSet) Has(status string) bool {
	_, ok := s[strings.ToUpper(strings.TrimSpace(status))]
	return ok
}

// CancelOutcome is what the venue said about a single cancel request.
type CancelOutcome struct {
	Status  string
	Message string
}

// Canceler runs the cancel sequence shared by all venues:
// cached symbol -> direct cancel -> on miss or failure scan open orders ->
// remember the symbol -> cancel -> interpret the status -> forget the id.
type Canceler struct {
	Venue string
	// NeedsSymbol is set for venues whose cancel endpoint takes a symbol;
	// without a cached one the direct attempt is skipped.
	NeedsSymbol  bool
	CanceledLike StatusSet
	Symbols      *OrderSymbols
	Metrics      *metrics.Collector

	Direct func(ctx context.Context, orderID, symbol string) (CancelOutcome, error)
	// Locate scans open orders and returns the symbol holding orderID.
	Locate func(ctx context.Context, orderID string) (symbol string, found bool, err error)
}

func (c Canceler) Cancel(ctx context.Context, orderID string) (core.CancelResult, error) {
	res := core.CancelResult{OrderID: orderID}
	if strings.TrimSpace(orderID) == "" {
		res.Message = "order id required"
		return res, fmt.Errorf("%w: empty order id", core.ErrOrderNotFound)
	}

	symbol, cached := c.Symbols.Get(orderID)
	var directErr error
	if cached || !c.NeedsSymbol {
		out, err := c.Direct(ctx, orderID, symbol)
		if err == nil {
			return c.finish(res, symbol, out)
		}
		if ctx.Err() != nil {
			return c.fail(res, err)
		}
		directErr = err
		log.Printf("level=WARN event=cancel_direct_failed venue=%s order_id=%s err=%q", c.Venue, orderID, err.Error())
	}
	if c.Locate == nil {
		if directErr == nil {
			directErr = fmt.Errorf("%w: %s", core.ErrOrderNotFound, orderID)
		}
		return c.fail(res, directErr)
	}

	found, ok, err := c.Locate(ctx, orderID)
	if err != nil {
		return c.fail(res, errors.Join(err, directErr))
	}
	if !ok {
		res.Message = "order not found among open orders"
		return c.fail(res, fmt.Errorf("%w: %s %s", core.ErrOrderNotFound, c.Venue, orderID))
	}
	c.Symbols.Put(orderID, found)
	out, err := c.Direct(ctx, orderID, found)
	if err != nil {
		res.Symbol = found
		return c.fail(res, err)
	}
	return c.finish(res, found, out)
}

func (c Canceler) finish(res core.CancelResult, symbol string, out CancelOutcome) (core.CancelResult, error) {
	res.Symbol = symbol
	res.Status = out.Status
	res.Message = out.Message
	if c.CanceledLike.Has(out.Status) {
		res.Canceled = true
		c.Symbols.Delete(res.OrderID)
		c.Metrics.RecordCancel(c.Venue, true)
		return res, nil
	}
	return c.fail(res, fmt.Errorf("%w: %s order %s status %q", core.ErrCancelUnconfirmed, c.Venue, res.OrderID, out.Status))
}

func (c Canceler) fail(res core.CancelResult, err error) (core.CancelResult, error) {
	res.Canceled = false
	if res.Message == "" && err != nil {
		res.Message = core.Truncate(err.Error(), 256)
	}
	c.Metrics.RecordCancel(c.Venue, false)
	return res, err
}

// CancelAttempt pairs one order's cancel result with its error, if any.
type CancelAttempt struct {
	Result core.CancelResult
	Err    error
}

// CancelEach cancels every order in turn and summarizes.
func CancelEach(ctx context.Context, productID string, orders []core.OpenOrder, cancel func(ctx context.Context, o core.OpenOrder) (core.CancelResult, error)) (core.CancelAllResult, error) {
	attempts := make([]CancelAttempt, 0, len(orders))
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, CancelAttempt{Result: core.CancelResult{OrderID: o.OrderID}, Err: err})
			continue
		}
		res, err := cancel(ctx, o)
		if res.OrderID == "" {
			res.OrderID = o.OrderID
		}
		attempts = append(attempts, CancelAttempt{Result: res, Err: err})
	}
	return Summarize(productID, attempts)
}

// Summarize succeeds only when every attempt came back canceled. Failures are
// aggregated into one error wrapping core.ErrCancelUnconfirmed.
func Summarize(productID string, attempts []CancelAttempt) (core.CancelAllResult, error) {
	out := core.CancelAllResult{ProductID: productID, Requested: len(attempts)}
	var merr *multierror.Error
	for _, a := range attempts {
		if a.Result.Canceled && a.Err == nil {
			out.Canceled++
			continue
		}
		out.Failed = append(out.Failed, a.Result.OrderID)
		err := a.Err
		if err == nil {
			err = fmt.Errorf("order %s status %q", a.Result.OrderID, a.Result.Status)
		}
		merr = multierror.Append(merr, err)
	}
	out.Success = len(out.Failed) == 0
	if merr != nil {
		return out, fmt.Errorf("%w: %d of %d orders on %s: %w", core.ErrCancelUnconfirmed, len(out.Failed), out.Requested, productID, merr.ErrorOrNil())
	}
	return out, nil
}
