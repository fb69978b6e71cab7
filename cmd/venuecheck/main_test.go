package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
)

type fakeExchange struct {
	open     map[string]core.OpenOrder
	placed   []core.OrderRequest
	canceled []string
	now      time.Time
}

func newFakeExchange(now time.Time) *fakeExchange {
	return &fakeExchange{open: map[string]core.OpenOrder{}, now: now}
}

func (f *fakeExchange) Name() string                          { return "fake" }
func (f *fakeExchange) SetCredentials(core.Credentials) error { return nil }

func (f *fakeExchange) ListProducts(context.Context) ([]core.Product, error) {
	return []core.Product{
		{ID: "BTC/USD", VenueSymbol: "BTCUSD", Base: "BTC", Quote: "USD", Active: true},
		{ID: "OLD/USD", VenueSymbol: "OLDUSD", Base: "OLD", Quote: "USD"},
	}, nil
}

func (f *fakeExchange) GetCandles(_ context.Context, _ string, _ int, start, end time.Time) ([]core.Candle, error) {
	var out []core.Candle
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		out = append(out, core.Candle{Time: ts})
	}
	return out, nil
}

func (f *fakeExchange) GetTicker(context.Context, string) (core.Ticker, error) {
	return core.Ticker{Bid: decimal.NewFromInt(30000), Ask: decimal.NewFromInt(30002), Last: decimal.NewFromInt(30001)}, nil
}

func (f *fakeExchange) GetFees(context.Context) (core.FeeSchedule, error) {
	return core.FeeSchedule{MakerRate: decimal.RequireFromString("0.001"), TakerRate: decimal.RequireFromString("0.002")}, nil
}

func (f *fakeExchange) GetSymbolConstraints(context.Context, string) (core.SymbolConstraints, error) {
	return core.SymbolConstraints{
		Symbol:        "BTCUSD",
		MinQty:        decimal.RequireFromString("0.0001"),
		StepSize:      decimal.RequireFromString("0.0001"),
		MinNotional:   decimal.NewFromInt(10),
		PriceTickSize: decimal.RequireFromString("0.01"),
	}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req core.OrderRequest) (core.OrderResult, error) {
	f.placed = append(f.placed, req)
	f.open["o1"] = core.OpenOrder{OrderID: "o1", ProductID: req.ProductID, Status: core.OrderOpen}
	return core.OrderResult{OrderID: "o1", Accepted: true}, nil
}

func (f *fakeExchange) OpenOrders(context.Context, string) ([]core.OpenOrder, error) {
	out := make([]core.OpenOrder, 0, len(f.open))
	for _, o := range f.open {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) (core.CancelResult, error) {
	f.canceled = append(f.canceled, id)
	if _, ok := f.open[id]; !ok {
		return core.CancelResult{OrderID: id}, core.ErrOrderNotFound
	}
	delete(f.open, id)
	return core.CancelResult{OrderID: id, Canceled: true, Status: "CANCELED"}, nil
}

func (f *fakeExchange) CancelAllOpenOrders(context.Context, string) (core.CancelAllResult, error) {
	return core.CancelAllResult{}, errors.New("not used")
}

func TestSuiteRunsAllChecks(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	ex := newFakeExchange(now)
	s := &suite{ex: ex, product: "BTC/USD", allowOrders: true, candleWindow: time.Hour, now: func() time.Time { return now }}

	checks, err := parseCheckFlag("all")
	if err != nil {
		t.Fatalf("parseCheckFlag() error = %v", err)
	}
	r := s.run(context.Background(), checks)
	if r.failed() || len(r.Checks) != 6 {
		t.Fatalf("run() = %+v", r.Checks)
	}
	for _, c := range r.Checks {
		if c.Status != statusPass {
			t.Fatalf("check %s = %s (%s)", c.Name, c.Status, c.Error)
		}
	}
	if len(ex.placed) != 1 || len(ex.canceled) != 1 {
		t.Fatalf("placed = %d canceled = %d, want 1 and 1", len(ex.placed), len(ex.canceled))
	}
	req := ex.placed[0]
	if !req.Price.Equal(decimal.RequireFromString("15000.5")) {
		t.Fatalf("lifecycle price = %s, want 15000.5", req.Price)
	}
	if notional := req.Price.Mul(req.Quantity); notional.LessThan(decimal.NewFromInt(10)) {
		t.Fatalf("lifecycle notional = %s, below minimum", notional)
	}
}

func TestLifecycleSkippedWithoutAllowOrders(t *testing.T) {
	now := time.Now()
	ex := newFakeExchange(now)
	s := &suite{ex: ex, product: "BTC/USD", candleWindow: time.Hour, now: time.Now}

	r := s.run(context.Background(), selectedChecks{lifecycle: true})
	if len(r.Checks) != 1 || r.Checks[0].Status != statusSkip || r.failed() {
		t.Fatalf("run() = %+v", r.Checks)
	}
	if len(ex.placed) != 0 {
		t.Fatalf("placed %d orders with orders disabled", len(ex.placed))
	}
}

func TestProductsCheckFailsWhenMissing(t *testing.T) {
	s := &suite{ex: newFakeExchange(time.Now()), product: "ETH/USD", now: time.Now}
	r := s.run(context.Background(), selectedChecks{products: true})
	if !r.failed() {
		t.Fatalf("run() = %+v, want failure", r.Checks)
	}
}

func TestParseCheckFlag(t *testing.T) {
	got, err := parseCheckFlag("ticker, fees")
	if err != nil {
		t.Fatalf("parseCheckFlag() error = %v", err)
	}
	if !got.ticker || !got.fees || got.candles || got.lifecycle {
		t.Fatalf("parseCheckFlag() = %+v", got)
	}
	if _, err := parseCheckFlag("stream"); err == nil {
		t.Fatalf("parseCheckFlag(stream) succeeded")
	}
	if _, err := parseCheckFlag(" , "); err == nil {
		t.Fatalf("parseCheckFlag(empty list) succeeded")
	}
}

func TestNormalizeProduct(t *testing.T) {
	if got := normalizeProduct(" btc-usd "); got != "BTC/USD" {
		t.Fatalf("normalizeProduct() = %q, want BTC/USD", got)
	}
}

type recordingNotifier struct{ msgs []string }

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.msgs = append(n.msgs, msg)
	return nil
}

func TestNotifyFailureListsFailedChecks(t *testing.T) {
	n := &recordingNotifier{}
	r := report{Venue: "okx", Product: "BTC/USDT", Checks: []checkResult{
		{Name: "ticker", Status: statusPass},
		{Name: "fees", Status: statusFail, Error: "timeout"},
	}}
	if err := notifyFailure(context.Background(), n, r); err != nil {
		t.Fatalf("notifyFailure() error = %v", err)
	}
	if len(n.msgs) != 1 || !strings.Contains(n.msgs[0], "fees (timeout)") || strings.Contains(n.msgs[0], "ticker") {
		t.Fatalf("messages = %q", n.msgs)
	}

	n.msgs = nil
	r.Checks = r.Checks[:1]
	if err := notifyFailure(context.Background(), n, r); err != nil || len(n.msgs) != 0 {
		t.Fatalf("notifyFailure() on passing report sent %q, err = %v", n.msgs, err)
	}
}
