package market

import (
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/metrics"
	"spot-connect/internal/signing"
	"spot-connect/internal/transport"
)

// Deps are the collaborators an adapter shares with every other adapter of
// the same venue. Zero fields are filled by WithDefaults.
type Deps struct {
	HTTP         *transport.Client
	Constraints  *ConstraintsCache
	Orders       *OrderSymbols
	FallbackFees core.FeeSchedule
	Metrics      *metrics.Collector
	// Nonce is shared so every client signing with one key stays monotonic.
	Nonce *signing.Nonce
	Now   func() time.Time
}

func (d Deps) WithDefaults(venue string) Deps {
	if d.HTTP == nil {
		d.HTTP = transport.New(transport.Options{Venue: venue, Retry: transport.DefaultRetryPolicy(), Metrics: d.Metrics})
	}
	if d.Constraints == nil {
		d.Constraints = NewConstraintsCache(venue, DefaultConstraintsTTL, d.Metrics)
	}
	if d.Orders == nil {
		d.Orders = NewOrderSymbols()
	}
	if d.Nonce == nil {
		d.Nonce = &signing.Nonce{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
