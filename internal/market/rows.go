package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
)

// RowLayout locates OHLCV fields in an array-shaped kline row.
type RowLayout struct {
	Time, Open, High, Low, Close, Volume int
	// TimeUnit is time.Millisecond or time.Second.
	TimeUnit time.Duration
}

func (l RowLayout) width() int {
	n := l.Time
	for _, i := range []int{l.Open, l.High, l.Low, l.Close, l.Volume} {
		if i > n {
			n = i
		}
	}
	return n + 1
}

// CandleFromRow decodes one row. Numbers may arrive quoted or bare.
func CandleFromRow(row []json.RawMessage, l RowLayout) (core.Candle, error) {
	if len(row) < l.width() {
		return core.Candle{}, fmt.Errorf("kline row has %d fields, want %d", len(row), l.width())
	}
	ts, err := ParseTimestamp(row[l.Time], l.TimeUnit)
	if err != nil {
		return core.Candle{}, err
	}
	c := core.Candle{Time: ts}
	fields := []struct {
		dst *decimal.Decimal
		idx int
	}{{&c.Open, l.Open}, {&c.High, l.High}, {&c.Low, l.Low}, {&c.Close, l.Close}, {&c.Volume, l.Volume}}
	for _, f := range fields {
		if err := json.Unmarshal(row[f.idx], f.dst); err != nil {
			return core.Candle{}, fmt.Errorf("kline field %d: %w", f.idx, err)
		}
	}
	return c, nil
}

// ParseTimestamp reads an epoch value in unit, quoted or bare.
func ParseTimestamp(raw json.RawMessage, unit time.Duration) (time.Time, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if unit <= 0 {
		unit = time.Millisecond
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
		}
		return time.Unix(0, int64(f*float64(unit))).UTC(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return time.Unix(0, n*int64(unit)).UTC(), nil
}

// Dec parses a venue decimal string, treating blanks and garbage as zero.
func Dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return v
}
