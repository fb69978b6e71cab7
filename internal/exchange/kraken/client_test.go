package kraken

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
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

const assetPairsBody = `{"error":[],"result":{
"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD","base":"XXBT","quote":"ZUSD","pair_decimals":1,"lot_decimals":8,"ordermin":"0.0001","costmin":"0.5","tick_size":"0.1","status":"online"},
"XDGUSD":{"altname":"XDGUSD","wsname":"XDG/USD","base":"XXDG","quote":"ZUSD","pair_decimals":7,"lot_decimals":8,"ordermin":"50","status":"online"},
"XETHZUSD":{"altname":"ETHUSD","wsname":"ETH/USD","base":"XETH","quote":"ZUSD","pair_decimals":2,"lot_decimals":8,"ordermin":"0.01","status":"cancel_only"}
}}`

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

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
				MakerRate: decimal.RequireFromString("0.0025"),
				TakerRate: decimal.RequireFromString("0.004"),
			},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

var testCreds = core.Credentials{APIKey: "kkey", APISecret: testSecret}

// checkSigned verifies API-Sign over the form body and returns the form.
func checkSigned(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	raw, _ := io.ReadAll(r.Body)
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		t.Errorf("ParseQuery() error = %v", err)
		return nil
	}
	want, _ := signing.PathDigest(testSecret, r.URL.Path, form.Get("nonce"), string(raw))
	if r.Header.Get("API-Sign") != want || r.Header.Get("API-Key") != "kkey" {
		t.Errorf("API-Sign = %q, want %q", r.Header.Get("API-Sign"), want)
	}
	return form
}

func TestSymbolsUseAliasesAndLegacyNames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, assetPairsBody)
	}, core.Credentials{})

	products, err := c.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	got := map[string]core.Product{}
	for _, p := range products {
		got[p.ID] = p
	}
	if p := got["BTC/USD"]; p.VenueSymbol != "XBTUSD" || !p.Active {
		t.Fatalf("BTC/USD = %+v", p)
	}
	if p := got["DOGE/USD"]; p.VenueSymbol != "XDGUSD" {
		t.Fatalf("DOGE/USD = %+v", p)
	}
	if p := got["ETH/USD"]; p.Active {
		t.Fatalf("ETH/USD active = true for cancel_only")
	}
	if id, ok := c.symbols.ProductID("XXBTZUSD"); !ok || id != "BTC/USD" {
		t.Fatalf("ProductID(XXBTZUSD) = %q/%v", id, ok)
	}

	sc, err := c.GetSymbolConstraints(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetSymbolConstraints() error = %v", err)
	}
	if !sc.StepSize.Equal(decimal.RequireFromString("0.00000001")) || !sc.PriceTickSize.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("constraints = %+v", sc)
	}
}

func TestGetCandlesPagesBySince(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(999 * time.Minute)
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("pair") != "XBTUSD" || q.Get("interval") != "1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
		var rows []string
		for ts := since + 1; ts <= end.Unix() && len(rows) < ohlcPageLimit; ts++ {
			if ts%60 != 0 {
				continue
			}
			rows = append(rows, fmt.Sprintf(`[%d,"1.0","2.0","0.5","1.5","1.2","3.0",4]`, ts))
		}
		fmt.Fprintf(w, `{"error":[],"result":{"XXBTZUSD":[%s],"last":%d}}`, strings.Join(rows, ","), end.Unix())
	}, core.Credentials{})

	got, err := c.GetCandles(context.Background(), "BTC/USD", 1, start, end)
	if err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}
	if len(got) != 1000 || !got[0].Time.Equal(start) || !got[999].Time.Equal(end) {
		t.Fatalf("GetCandles() len = %d", len(got))
	}
	if !got[0].Volume.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("volume = %s, want 3 (not vwap)", got[0].Volume)
	}
	if calls.Load() != 2 {
		t.Fatalf("OHLC requests = %d, want 2", calls.Load())
	}
}

func TestGetTickerReadsVenuePairKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":[],"result":{"XXBTZUSD":{"a":["101.0","1","1.000"],"b":["99.0","2","2.000"],"c":["100.5","0.1"]}}}`)
	}, core.Credentials{})
	tk, err := c.GetTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetTicker() error = %v", err)
	}
	if !tk.Last.Equal(decimal.NewFromInt(100)) || !tk.Bid.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("GetTicker() = %+v, want midpoint 100", tk)
	}
}

func TestPlaceOrderRejectedInEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/0/public/AssetPairs" {
			io.WriteString(w, assetPairsBody)
			return
		}
		form := checkSigned(t, r)
		if form.Get("pair") != "XBTUSD" || form.Get("ordertype") != "limit" || form.Get("price") != "30000.1" {
			t.Errorf("form = %v", form)
		}
		io.WriteString(w, `{"error":["EOrder:Insufficient funds"]}`)
	}, testCreds)
	res, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		ProductID: "BTC/USD", Side: core.Buy, Type: core.Limit,
		Quantity: decimal.RequireFromString("0.01"), Price: decimal.RequireFromString("30000.15"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if res.Accepted || res.Message != "EOrder:Insufficient funds" {
		t.Fatalf("PlaceOrder() = %+v", res)
	}
}

func TestPlaceOrderAndCancel(t *testing.T) {
	var nonces []int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/AssetPairs":
			io.WriteString(w, assetPairsBody)
		case "/0/private/AddOrder":
			form := checkSigned(t, r)
			n, _ := strconv.ParseInt(form.Get("nonce"), 10, 64)
			nonces = append(nonces, n)
			io.WriteString(w, `{"error":[],"result":{"descr":{"order":"buy 0.01 XBTUSD @ limit 30000.1"},"txid":["OU22CG-KLAF2-FWUDD7"]}}`)
		case "/0/private/CancelOrder":
			form := checkSigned(t, r)
			n, _ := strconv.ParseInt(form.Get("nonce"), 10, 64)
			nonces = append(nonces, n)
			if form.Get("txid") != "OU22CG-KLAF2-FWUDD7" {
				t.Errorf("txid = %q", form.Get("txid"))
			}
			io.WriteString(w, `{"error":[],"result":{"count":1}}`)
		default:
			http.NotFound(w, r)
		}
	}, testCreds)

	res, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		ProductID: "BTC/USD", Side: core.Buy, Type: core.Limit,
		Quantity: decimal.RequireFromString("0.01"), Price: decimal.RequireFromString("30000.1"),
	})
	if err != nil || !res.Accepted || res.OrderID != "OU22CG-KLAF2-FWUDD7" {
		t.Fatalf("PlaceOrder() = %+v, %v", res, err)
	}
	cres, err := c.CancelOrder(context.Background(), res.OrderID)
	if err != nil || !cres.Canceled || cres.Status != statusCanceled {
		t.Fatalf("CancelOrder() = %+v, %v", cres, err)
	}
	if len(nonces) != 2 || nonces[1] <= nonces[0] {
		t.Fatalf("nonces = %v, want strictly increasing", nonces)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/private/CancelOrder":
			io.WriteString(w, `{"error":["EOrder:Unknown order"]}`)
		case "/0/private/OpenOrders":
			io.WriteString(w, `{"error":[],"result":{"open":{}}}`)
		}
	}, testCreds)
	res, err := c.CancelOrder(context.Background(), "OXXXXX")
	if !errors.Is(err, core.ErrOrderNotFound) || res.Canceled {
		t.Fatalf("CancelOrder() = %+v, %v; want not found", res, err)
	}
}

func TestAPIErrorKinds(t *testing.T) {
	err := error(&APIError{Endpoint: "/0/private/CancelOrder", Messages: []string{"EOrder:Unknown order"}})
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("errors.Is(ErrOrderNotFound) = false")
	}
	if errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("errors.Is(ErrInsufficientBalance) = true")
	}
}

func TestOpenOrdersFiltersByProduct(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/0/public/AssetPairs" {
			io.WriteString(w, assetPairsBody)
			return
		}
		io.WriteString(w, `{"error":[],"result":{"open":{
"OA":{"status":"open","opentm":1700000000.5,"vol":"1.0","vol_exec":"0.0","descr":{"pair":"XBTUSD","type":"buy","ordertype":"limit","price":"100"}},
"OB":{"status":"open","opentm":1700000001.0,"vol":"1.0","vol_exec":"0.4","descr":{"pair":"XBTUSD","type":"sell","ordertype":"limit","price":"200"}},
"OC":{"status":"open","opentm":1700000002.0,"vol":"1.0","vol_exec":"0","descr":{"pair":"ETHUSD","type":"sell","ordertype":"limit","price":"2"}}}}}`)
	}, testCreds)
	if _, err := c.ListProducts(context.Background()); err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	orders, err := c.OpenOrders(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("OpenOrders() error = %v", err)
	}
	if len(orders) != 2 || orders[0].OrderID != "OA" || orders[1].Status != core.OrderPartiallyFilled || orders[0].ProductID != "BTC/USD" {
		t.Fatalf("OpenOrders() = %+v", orders)
	}
}

func TestGetFeesConvertsPercent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSigned(t, r)
		io.WriteString(w, `{"error":[],"result":{"currency":"ZUSD","volume":"0",
"fees":{"XXBTZUSD":{"fee":"0.2600"},"XETHZUSD":{"fee":"0.2400"}},
"fees_maker":{"XXBTZUSD":{"fee":"0.1600"},"XETHZUSD":{"fee":"0.1400"}}}}`)
	}, testCreds)
	fees, _ := c.GetFees(context.Background())
	if !fees.MakerRate.Equal(decimal.RequireFromString("0.0016")) || !fees.TakerRate.Equal(decimal.RequireFromString("0.0026")) {
		t.Fatalf("GetFees() = %+v, want 0.0016/0.0026", fees)
	}
}

func TestSetCredentialsRejectsNonBase64Secret(t *testing.T) {
	c := newTestClient(t, http.NotFound, core.Credentials{})
	if err := c.SetCredentials(core.Credentials{APIKey: "k", APISecret: "not base64!"}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("SetCredentials() error = %v, want ErrInvalidKey", err)
	}
}
