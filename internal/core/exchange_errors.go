package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientBalance indicates the exchange rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateOrder indicates the client order id has already been accepted before.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOrderNotFound indicates the order does not exist on exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected indicates the order was rejected by exchange.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderExpired indicates the order has expired on exchange.
	ErrOrderExpired = errors.New("order expired")
	// ErrCancelUnconfirmed indicates the venue did not report a canceled-like outcome.
	ErrCancelUnconfirmed = errors.New("cancel not confirmed")
	// ErrInvalidTicker indicates no positive last price could be established.
	ErrInvalidTicker = errors.New("invalid ticker")
	// ErrUnknownProduct indicates the product is not tradable on the venue.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrUnsupportedGranularity indicates the venue has no candle interval of that size.
	ErrUnsupportedGranularity = errors.New("unsupported granularity")
	// ErrMissingCredentials indicates a signed call was attempted without credentials.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidKey indicates key material could not be parsed.
	ErrInvalidKey = errors.New("invalid key material")
)

const maxProtocolBody = 512

// ProtocolError reports a venue response that did not have the expected shape.
type ProtocolError struct {
	Venue    string
	Endpoint string
	Body     string
	Err      error
}

func NewProtocolError(venue, endpoint string, body []byte, err error) *ProtocolError {
	return &ProtocolError{
		Venue:    venue,
		Endpoint: endpoint,
		Body:     Truncate(string(body), maxProtocolBody),
		Err:      err,
	}
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected response", e.Venue, e.Endpoint)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += " body=" + e.Body
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
