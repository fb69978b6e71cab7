package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/exchange"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
	statusSkip checkStatus = "SKIP"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Venue      string        `json:"venue"`
	Product    string        `json:"product"`
	Checks     []checkResult `json:"checks"`
}

func (r report) failed() bool {
	for _, c := range r.Checks {
		if c.Status == statusFail {
			return true
		}
	}
	return false
}

type selectedChecks struct {
	products    bool
	constraints bool
	ticker      bool
	fees        bool
	candles     bool
	lifecycle   bool
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "", "default":
		return selectedChecks{products: true, constraints: true, ticker: true, fees: true, candles: true}, nil
	case "all":
		return selectedChecks{products: true, constraints: true, ticker: true, fees: true, candles: true, lifecycle: true}, nil
	}
	var out selectedChecks
	selected := false
	for _, p := range strings.Split(raw, ",") {
		switch name := strings.TrimSpace(p); name {
		case "":
			continue
		case "products":
			out.products = true
		case "constraints":
			out.constraints = true
		case "ticker":
			out.ticker = true
		case "fees":
			out.fees = true
		case "candles":
			out.candles = true
		case "lifecycle", "order_lifecycle":
			out.lifecycle = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
		selected = true
	}
	if !selected {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

// suite runs checks against one venue and product, sharing what earlier
// checks learned.
type suite struct {
	ex           exchange.Exchange
	product      string
	allowOrders  bool
	candleWindow time.Duration
	now          func() time.Time

	constraints *core.SymbolConstraints
	last        decimal.Decimal
	placedID    string
}

func (s *suite) run(ctx context.Context, checks selectedChecks) report {
	r := report{StartedAt: s.now().UTC(), Venue: s.ex.Name(), Product: s.product}
	step := func(enabled bool, name string, fn func(context.Context) (string, error)) {
		if !enabled {
			return
		}
		start := time.Now()
		detail, err := fn(ctx)
		cr := checkResult{Name: name, DurationMs: time.Since(start).Milliseconds(), Detail: detail, Status: statusPass}
		var skip skipError
		switch {
		case errors.As(err, &skip):
			cr.Status = statusSkip
			cr.Detail = string(skip)
		case err != nil:
			cr.Status = statusFail
			cr.Error = err.Error()
		}
		r.Checks = append(r.Checks, cr)
		printCheck(cr)
	}

	step(checks.products, "list_products", s.checkProducts)
	step(checks.constraints, "symbol_constraints", s.checkConstraints)
	step(checks.ticker, "ticker", s.checkTicker)
	step(checks.fees, "fees", s.checkFees)
	step(checks.candles, "candles", s.checkCandles)
	step(checks.lifecycle, "order_lifecycle_place_list_cancel", s.checkLifecycle)

	// best-effort cleanup if lifecycle stopped between place and cancel
	if s.placedID != "" {
		if _, err := s.ex.CancelOrder(context.Background(), s.placedID); err != nil {
			fmt.Printf("cleanup cancel %s failed: %v\n", s.placedID, err)
		}
	}
	r.FinishedAt = s.now().UTC()
	return r
}

type skipError string

func (e skipError) Error() string { return string(e) }

func (s *suite) checkProducts(ctx context.Context) (string, error) {
	products, err := s.ex.ListProducts(ctx)
	if err != nil {
		return "", err
	}
	active, found := 0, false
	for _, p := range products {
		if p.Active {
			active++
		}
		if p.ID == s.product {
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("%s not listed among %d products", s.product, len(products))
	}
	return fmt.Sprintf("products=%d active=%d", len(products), active), nil
}

func (s *suite) loadConstraints(ctx context.Context) (core.SymbolConstraints, error) {
	if s.constraints != nil {
		return *s.constraints, nil
	}
	c, err := s.ex.GetSymbolConstraints(ctx, s.product)
	if err != nil {
		return c, err
	}
	s.constraints = &c
	return c, nil
}

func (s *suite) checkConstraints(ctx context.Context) (string, error) {
	c, err := s.loadConstraints(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("symbol=%s minQty=%s step=%s tick=%s minNotional=%s", c.Symbol, c.MinQty, c.StepSize, c.PriceTickSize, c.MinNotional), nil
}

func (s *suite) checkTicker(ctx context.Context) (string, error) {
	t, err := s.ex.GetTicker(ctx, s.product)
	if err != nil {
		return "", err
	}
	if !t.Last.IsPositive() {
		return "", fmt.Errorf("last price %s is not positive", t.Last)
	}
	s.last = t.Last
	return fmt.Sprintf("bid=%s ask=%s last=%s", t.Bid, t.Ask, t.Last), nil
}

func (s *suite) checkFees(ctx context.Context) (string, error) {
	f, err := s.ex.GetFees(ctx)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("maker=%s taker=%s", f.MakerRate, f.TakerRate)
	if f.Notes != "" {
		detail += " notes=" + f.Notes
	}
	return detail, nil
}

func (s *suite) checkCandles(ctx context.Context) (string, error) {
	end := s.now().UTC().Truncate(time.Minute)
	start := end.Add(-s.candleWindow)
	candles, err := s.ex.GetCandles(ctx, s.product, 1, start, end)
	if err != nil {
		return "", err
	}
	for i, c := range candles {
		if c.Time.Before(start) || c.Time.After(end) {
			return "", fmt.Errorf("candle %d at %s outside window", i, c.Time.Format(time.RFC3339))
		}
		if i > 0 && !c.Time.After(candles[i-1].Time) {
			return "", fmt.Errorf("candles not strictly ascending at %d", i)
		}
	}
	return fmt.Sprintf("candles=%d window=%s", len(candles), s.candleWindow), nil
}

// checkLifecycle places a limit buy at half the last price, looks for it
// among open orders and cancels it.
func (s *suite) checkLifecycle(ctx context.Context) (string, error) {
	if !s.allowOrders {
		return "", skipError("order placement disabled; pass -allow-orders")
	}
	rules, err := s.loadConstraints(ctx)
	if err != nil {
		return "", err
	}
	if !s.last.IsPositive() {
		if _, err := s.checkTicker(ctx); err != nil {
			return "", err
		}
	}
	price := s.last.Mul(decimal.RequireFromString("0.5"))
	if rules.PriceTickSize.IsPositive() {
		price = core.RoundDown(price, rules.PriceTickSize)
	}
	qty, err := tinyLimitQty(s.product, rules, price)
	if err != nil {
		return "", err
	}
	placed, err := s.ex.PlaceOrder(ctx, core.OrderRequest{
		ProductID: s.product,
		Side:      core.Buy,
		Type:      core.Limit,
		Quantity:  qty,
		Price:     price,
	})
	if err != nil {
		return "", err
	}
	if !placed.Accepted || placed.OrderID == "" {
		return "", fmt.Errorf("order not accepted: %s", placed.Message)
	}
	s.placedID = placed.OrderID

	open, err := s.ex.OpenOrders(ctx, s.product)
	if err != nil {
		return "", err
	}
	foundInOpen := false
	for _, o := range open {
		if o.OrderID == placed.OrderID {
			foundInOpen = true
			break
		}
	}
	canceled, err := s.ex.CancelOrder(ctx, placed.OrderID)
	if err != nil {
		return "", fmt.Errorf("cancel order failed: %w", err)
	}
	s.placedID = ""
	return fmt.Sprintf("id=%s qty=%s price=%s foundInOpen=%t cancelStatus=%s", placed.OrderID, qty, price, foundInOpen, canceled.Status), nil
}

// tinyLimitQty is the smallest quantity the venue accepts at price.
func tinyLimitQty(productID string, rules core.SymbolConstraints, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, errors.New("calculated order price <= 0")
	}
	qty := rules.MinQty
	if rules.MinNotional.IsPositive() {
		// 10% headroom over the minimum notional
		byNotional := rules.MinNotional.Mul(decimal.RequireFromString("1.1")).Div(price)
		qty = decimal.Max(qty, byNotional)
	}
	if !qty.IsPositive() {
		qty = rules.StepSize
	}
	qty = roundQtyUp(qty, rules.StepSize)
	if !qty.IsPositive() {
		return decimal.Zero, errors.New("calculated qty <= 0")
	}
	norm, err := core.NormalizeOrder(core.OrderRequest{Side: core.Buy, Type: core.Limit, Price: price, Quantity: qty, ProductID: productID}, rules)
	if err != nil {
		return decimal.Zero, err
	}
	return norm.Quantity, nil
}

func roundQtyUp(qty, step decimal.Decimal) decimal.Decimal {
	if qty.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	if step.Cmp(decimal.Zero) <= 0 {
		return qty
	}
	return qty.Div(step).Ceil().Mul(step)
}

func printCheck(cr checkResult) {
	switch cr.Status {
	case statusPass:
		fmt.Printf("[PASS] %s (%dms)", cr.Name, cr.DurationMs)
		if cr.Detail != "" {
			fmt.Printf(" - %s", cr.Detail)
		}
		fmt.Println()
	case statusSkip:
		fmt.Printf("[SKIP] %s - %s\n", cr.Name, cr.Detail)
	default:
		fmt.Printf("[FAIL] %s (%dms) - %s\n", cr.Name, cr.DurationMs, cr.Error)
	}
}
