package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/signing"
	"spot-connect/internal/transport"
)

const instrumentsBody = `{"code":"0","msg":"","data":[
{"instId":"BTC-USDT","baseCcy":"BTC","quoteCcy":"USDT","lotSz":"0.00000001","minSz":"0.00001","maxLmtSz":"9999999999","tickSz":"0.1","state":"live"},
{"instId":"OLD-USDT","baseCcy":"OLD","quoteCcy":"USDT","lotSz":"1","minSz":"1","tickSz":"0.001","state":"suspend"}]}`

var testCreds = core.Credentials{APIKey: "okey", APISecret: "osecret", Passphrase: "opass"}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc, creds core.Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		BaseURL:     srv.URL,
		Credentials: creds,
		Deps: market.Deps{
			HTTP: transport.New(transport.Options{Venue: Name, Retry: transport.RetryPolicy{Sleep: noSleep}}),
			FallbackFees: core.FeeSchedule{
				MakerRate: decimal.RequireFromString("0.0008"),
				TakerRate: decimal.RequireFromString("0.001"),
			},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// checkSigned verifies the OK-ACCESS headers and returns the raw body.
func checkSigned(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, _ := io.ReadAll(r.Body)
	ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
	if _, err := time.Parse(timestampLayout, ts); err != nil {
		t.Errorf("OK-ACCESS-TIMESTAMP = %q: %v", ts, err)
	}
	requestPath := r.URL.Path
	if r.URL.RawQuery != "" {
		requestPath += "?" + r.URL.RawQuery
	}
	want := signing.Base64SHA256("osecret", ts+r.Method+requestPath+string(body))
	if got := r.Header.Get("OK-ACCESS-SIGN"); got != want {
		t.Errorf("OK-ACCESS-SIGN = %q, want %q", got, want)
	}
	if r.Header.Get("OK-ACCESS-KEY") != "okey" || r.Header.Get("OK-ACCESS-PASSPHRASE") != "opass" {
		t.Errorf("auth headers = %v", r.Header)
	}
	return body
}

func TestGetCandlesWalksWindows(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	const total = 250
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("instId") != "BTC-USDT" || q.Get("bar") != "1m" {
			t.Errorf("query = %v", q)
		}
		after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
		before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
		var rows []string
		for i := total - 1; i >= 0; i-- {
			ts := base.Add(time.Duration(i) * time.Minute).UnixMilli()
			if ts < after && ts > before && len(rows) < 100 {
				rows = append(rows, fmt.Sprintf(`["%d","1","2","0.5","1.5","7","0","0","1"]`, ts))
			}
		}
		fmt.Fprintf(w, `{"code":"0","msg":"","data":[%s]}`, strings.Join(rows, ","))
	}, core.Credentials{})

	candles, err := c.GetCandles(context.Background(), "BTC/USDT", 1, base, base.Add((total-1)*time.Minute))
	if err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}
	if len(candles) != total {
		t.Fatalf("len(candles) = %d, want %d", len(candles), total)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
	if !candles[0].Time.Equal(base) || !candles[total-1].Time.Equal(base.Add((total-1)*time.Minute)) {
		t.Fatalf("range = %v .. %v", candles[0].Time, candles[total-1].Time)
	}
}

func TestPlaceOrderSignedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/public/instruments":
			io.WriteString(w, instrumentsBody)
		case "/api/v5/trade/order":
			body := checkSigned(t, r)
			var got placeRequest
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("body = %s: %v", body, err)
			}
			want := placeRequest{InstID: "BTC-USDT", TdMode: "cash", Side: "buy", OrdType: "limit", Sz: "0.00123", Px: "50000.1", ClOrdID: "abc123"}
			if got != want {
				t.Errorf("body = %+v, want %+v", got, want)
			}
			io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"312269865356374016","clOrdId":"abc123","sCode":"0","sMsg":""}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, testCreds)

	res, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		ProductID:     "BTC/USDT",
		Side:          core.Buy,
		Type:          core.Limit,
		Quantity:      decimal.RequireFromString("0.00123"),
		Price:         decimal.RequireFromString("50000.17"),
		ClientOrderID: "abc123",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if !res.Accepted || res.OrderID != "312269865356374016" {
		t.Fatalf("PlaceOrder() = %+v", res)
	}
	if sym, ok := c.deps.Orders.Get(res.OrderID); !ok || sym != "BTC-USDT" {
		t.Fatalf("Orders.Get() = %q, %v", sym, ok)
	}
}

func TestPlaceOrderRejectedBySCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/public/instruments":
			io.WriteString(w, instrumentsBody)
		case "/api/v5/trade/order":
			checkSigned(t, r)
			io.WriteString(w, `{"code":"1","msg":"All operations failed","data":[{"ordId":"","sCode":"51008","sMsg":"Order failed. Insufficient USDT balance in account."}]}`)
		}
	}, testCreds)

	res, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		ProductID: "BTC/USDT",
		Side:      core.Buy,
		Type:      core.Market,
		Quantity:  decimal.RequireFromString("1"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if res.Accepted || !strings.Contains(res.Message, "51008") {
		t.Fatalf("PlaceOrder() = %+v", res)
	}
	apiErr := &APIError{Code: "51008"}
	if !errors.Is(apiErr, core.ErrInsufficientBalance) {
		t.Fatalf("51008 does not map to ErrInsufficientBalance")
	}
}

func TestCancelCachedOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/trade/cancel-order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body := checkSigned(t, r)
		var req cancelRequest
		json.Unmarshal(body, &req)
		if req.InstID != "BTC-USDT" || req.OrdID != "42" {
			t.Errorf("cancel body = %+v", req)
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"42","clOrdId":"","sCode":"0","sMsg":""}]}`)
	}, testCreds)
	c.deps.Orders.Put("42", "BTC-USDT")

	res, err := c.CancelOrder(context.Background(), "42")
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if !res.Canceled || res.Symbol != "BTC-USDT" {
		t.Fatalf("CancelOrder() = %+v", res)
	}
	if _, ok := c.deps.Orders.Get("42"); ok {
		t.Fatalf("canceled order still cached")
	}
}

func TestCancelAckWithoutOrderIDIsUnconfirmed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSigned(t, r)
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"","clOrdId":"","sCode":"0","sMsg":""}]}`)
	}, testCreds)
	c.deps.Orders.Put("42", "BTC-USDT")

	res, err := c.CancelOrder(context.Background(), "42")
	if !errors.Is(err, core.ErrCancelUnconfirmed) {
		t.Fatalf("CancelOrder() error = %v, want ErrCancelUnconfirmed", err)
	}
	if res.Canceled || res.Status != statusUnconfirmed {
		t.Fatalf("CancelOrder() = %+v", res)
	}
	if _, ok := c.deps.Orders.Get("42"); !ok {
		t.Fatalf("unconfirmed cancel dropped the cached symbol")
	}
}

func TestCancelGoneOrderScansThenFails(t *testing.T) {
	var cancels, scans atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSigned(t, r)
		switch r.URL.Path {
		case "/api/v5/trade/cancel-order":
			cancels.Add(1)
			io.WriteString(w, `{"code":"1","msg":"","data":[{"ordId":"42","sCode":"51400","sMsg":"Order cancellation failed as the order has been filled, canceled or does not exist"}]}`)
		case "/api/v5/trade/orders-pending":
			scans.Add(1)
			io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
		}
	}, testCreds)

	// no cached symbol: the direct attempt is skipped
	if _, err := c.CancelOrder(context.Background(), "41"); !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("CancelOrder(41) error = %v, want ErrOrderNotFound", err)
	}
	if cancels.Load() != 0 || scans.Load() != 1 {
		t.Fatalf("cancels = %d scans = %d, want 0 and 1", cancels.Load(), scans.Load())
	}

	c.deps.Orders.Put("42", "BTC-USDT")
	if _, err := c.CancelOrder(context.Background(), "42"); !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("CancelOrder(42) error = %v, want ErrOrderNotFound", err)
	}
	if cancels.Load() != 1 || scans.Load() != 2 {
		t.Fatalf("cancels = %d scans = %d, want 1 and 2", cancels.Load(), scans.Load())
	}
}

func TestOpenOrdersFollowsCursor(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSigned(t, r)
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("instType") != "SPOT" || q.Get("instId") != "BTC-USDT" {
			t.Errorf("query = %v", q)
		}
		var rows []string
		switch q.Get("after") {
		case "":
			for i := 0; i < pendingPageSize; i++ {
				rows = append(rows, fmt.Sprintf(`{"instId":"BTC-USDT","ordId":"%d","side":"buy","ordType":"limit","px":"100","sz":"1","accFillSz":"0","state":"live","cTime":"1714521600000"}`, 1000-i))
			}
		case "901":
			rows = append(rows, `{"instId":"BTC-USDT","ordId":"900","side":"sell","ordType":"limit","px":"200","sz":"2","accFillSz":"0.5","state":"partially_filled","cTime":"1714521600000"}`)
		default:
			t.Errorf("after = %q", q.Get("after"))
		}
		fmt.Fprintf(w, `{"code":"0","msg":"","data":[%s]}`, strings.Join(rows, ","))
	}, testCreds)

	orders, err := c.OpenOrders(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("OpenOrders() error = %v", err)
	}
	if len(orders) != pendingPageSize+1 || calls.Load() != 2 {
		t.Fatalf("len(orders) = %d calls = %d", len(orders), calls.Load())
	}
	last := orders[len(orders)-1]
	if last.Status != core.OrderPartiallyFilled || last.Side != core.Sell || last.ProductID != "BTC/USDT" || !last.FilledQty.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("last order = %+v", last)
	}
}

func TestGetFeesFlipsSign(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSigned(t, r)
		io.WriteString(w, `{"code":"0","msg":"","data":[{"instType":"SPOT","level":"Lv1","maker":"-0.0006","taker":"-0.0009"}]}`)
	}, testCreds)

	fees, err := c.GetFees(context.Background())
	if err != nil {
		t.Fatalf("GetFees() error = %v", err)
	}
	if !fees.MakerRate.Equal(decimal.RequireFromString("0.0006")) || !fees.TakerRate.Equal(decimal.RequireFromString("0.0009")) {
		t.Fatalf("GetFees() = %+v", fees)
	}
}

func TestHTTPErrorCarriesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"code":"50113","msg":"Invalid Sign","data":[]}`)
	}, testCreds)

	_, err := c.OpenOrders(context.Background(), "")
	var rf *transport.RequestFailed
	var apiErr *APIError
	if !errors.As(err, &rf) || !errors.As(err, &apiErr) || apiErr.Code != "50113" {
		t.Fatalf("OpenOrders() error = %v, want RequestFailed and APIError 50113", err)
	}
}

func TestTickerMidpoint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"100.5","bidPx":"100","askPx":"102"}]}`)
	}, core.Credentials{})

	tk, err := c.GetTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("GetTicker() error = %v", err)
	}
	if !tk.Last.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("GetTicker() = %+v", tk)
	}
}

func TestSetCredentialsNeedsPassphrase(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, core.Credentials{})
	err := c.SetCredentials(core.Credentials{APIKey: "k", APISecret: "s"})
	if !errors.Is(err, core.ErrMissingCredentials) {
		t.Fatalf("SetCredentials() error = %v, want ErrMissingCredentials", err)
	}
}
