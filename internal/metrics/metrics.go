package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the exchange-layer series. A nil *Collector is valid and
// records nothing, so adapters built in tests need no registry.
type Collector struct {
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	retryTotal         *prometheus.CounterVec
	constraintsRefresh *prometheus.CounterVec
	orderTotal         *prometheus.CounterVec
	cancelTotal        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		requestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotconnect_request_total",
				Help: "Venue REST requests by outcome",
			},
			[]string{"venue", "method", "code"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spotconnect_request_duration_seconds",
				Help:    "Venue REST request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
			},
			[]string{"venue"},
		),
		retryTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotconnect_retry_total",
				Help: "Retries scheduled after transient failures",
			},
			[]string{"venue", "reason"},
		),
		constraintsRefresh: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotconnect_constraints_refresh_total",
				Help: "Symbol constraint cache rebuilds",
			},
			[]string{"venue", "result"},
		),
		orderTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotconnect_order_total",
				Help: "Order placements by normalized outcome",
			},
			[]string{"venue", "side", "accepted"},
		),
		cancelTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotconnect_cancel_total",
				Help: "Cancel attempts by normalized outcome",
			},
			[]string{"venue", "canceled"},
		),
	}
}

var (
	defaultOnce sync.Once
	defaultColl *Collector
)

// Default registers on prometheus.DefaultRegisterer once per process.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultColl = New(prometheus.DefaultRegisterer)
	})
	return defaultColl
}

func (c *Collector) ObserveRequest(venue, method string, status int, took time.Duration) {
	if c == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status/100) + "xx"
	}
	c.requestTotal.WithLabelValues(venue, method, code).Inc()
	c.requestDuration.WithLabelValues(venue).Observe(took.Seconds())
}

func (c *Collector) RecordRetry(venue, reason string) {
	if c == nil {
		return
	}
	c.retryTotal.WithLabelValues(venue, reason).Inc()
}

func (c *Collector) RecordConstraintsRefresh(venue string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.constraintsRefresh.WithLabelValues(venue, result).Inc()
}

func (c *Collector) RecordOrder(venue, side string, accepted bool) {
	if c == nil {
		return
	}
	c.orderTotal.WithLabelValues(venue, side, strconv.FormatBool(accepted)).Inc()
}

func (c *Collector) RecordCancel(venue string, canceled bool) {
	if c == nil {
		return
	}
	c.cancelTotal.WithLabelValues(venue, strconv.FormatBool(canceled)).Inc()
}
