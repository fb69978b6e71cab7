package exchange

import (
	"context"
	"time"

	"spot-connect/internal/core"
)

// Exchange is the capability set every venue adapter provides. Product ids
// are unified "BASE/QUOTE" strings; venue spellings stay inside adapters.
type Exchange interface {
	Name() string
	SetCredentials(creds core.Credentials) error
	ListProducts(ctx context.Context) ([]core.Product, error)
	GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error)
	GetTicker(ctx context.Context, productID string) (core.Ticker, error)
	// GetFees never fails for lack of credentials; it falls back to the
	// configured static schedule and says so in Notes.
	GetFees(ctx context.Context) (core.FeeSchedule, error)
	PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (core.CancelResult, error)
	CancelAllOpenOrders(ctx context.Context, productID string) (core.CancelAllResult, error)
	OpenOrders(ctx context.Context, productID string) ([]core.OpenOrder, error)
	GetSymbolConstraints(ctx context.Context, productID string) (core.SymbolConstraints, error)
}
