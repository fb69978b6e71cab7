package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrBelowMinQty      = errors.New("qty below min")
	ErrAboveMaxQty      = errors.New("qty above max")
	ErrBelowMinNotional = errors.New("notional below min")
)

// ValidateOrder checks the request shape before anything is signed.
func ValidateOrder(req OrderRequest) error {
	if req.ProductID == "" {
		return fmt.Errorf("%w: product id required", ErrInvalidOrder)
	}
	if req.Side != Buy && req.Side != Sell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, req.Side)
	}
	if req.Quantity.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch req.Type {
	case Limit:
		if req.Price.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("%w: limit order requires a positive price", ErrInvalidOrder)
		}
	case Market:
	default:
		return fmt.Errorf("%w: type must be MARKET or LIMIT, got %q", ErrInvalidOrder, req.Type)
	}
	switch req.TimeInForce {
	case "", GTC, IOC, FOK:
	default:
		return fmt.Errorf("%w: unsupported time in force %q", ErrInvalidOrder, req.TimeInForce)
	}
	return nil
}

// NormalizeOrder rounds quantity and price down onto the symbol grid and
// checks the venue minimums.
func NormalizeOrder(req OrderRequest, c SymbolConstraints) (OrderRequest, error) {
	if err := ValidateOrder(req); err != nil {
		return req, err
	}
	if c.StepSize.Cmp(decimal.Zero) > 0 {
		req.Quantity = RoundDown(req.Quantity, c.StepSize)
	}
	if req.Quantity.Cmp(decimal.Zero) <= 0 {
		return req, ErrInvalidOrder
	}
	if c.MinQty.Cmp(decimal.Zero) > 0 && req.Quantity.Cmp(c.MinQty) < 0 {
		return req, ErrBelowMinQty
	}
	if c.MaxQty.Cmp(decimal.Zero) > 0 && req.Quantity.Cmp(c.MaxQty) > 0 {
		return req, ErrAboveMaxQty
	}
	if req.Type == Market {
		if req.Price.Cmp(decimal.Zero) <= 0 {
			return req, nil
		}
		if c.MinNotional.Cmp(decimal.Zero) > 0 {
			notional := req.Price.Mul(req.Quantity)
			if notional.Cmp(c.MinNotional) < 0 {
				return req, ErrBelowMinNotional
			}
		}
		return req, nil
	}
	if c.PriceTickSize.Cmp(decimal.Zero) > 0 {
		req.Price = RoundDown(req.Price, c.PriceTickSize)
	}
	if req.Price.Cmp(decimal.Zero) <= 0 {
		return req, ErrInvalidOrder
	}
	if c.MinNotional.Cmp(decimal.Zero) > 0 {
		notional := req.Price.Mul(req.Quantity)
		if notional.Cmp(c.MinNotional) < 0 {
			return req, ErrBelowMinNotional
		}
	}
	return req, nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// DecimalsToStep turns a venue "decimals" count into a step, 8 -> 0.00000001.
func DecimalsToStep(decimals int) decimal.Decimal {
	if decimals < 0 {
		return decimal.Zero
	}
	return decimal.New(1, int32(-decimals))
}
