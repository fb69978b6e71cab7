package market

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
)

var hundred = decimal.NewFromInt(100)

// FeeRow is one maker/taker pair as a fraction (0.001 = 0.1%).
type FeeRow struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// FromPercent converts a row quoted in percent.
func (r FeeRow) FromPercent() FeeRow {
	return FeeRow{Maker: r.Maker.Div(hundred), Taker: r.Taker.Div(hundred)}
}

// Valid rows have both rates in [0, 1).
func (r FeeRow) Valid() bool {
	one := decimal.NewFromInt(1)
	return !r.Maker.IsNegative() && !r.Taker.IsNegative() && r.Maker.LessThan(one) && r.Taker.LessThan(one)
}

// WorstCase returns the highest maker and the highest taker across valid
// rows, which need not come from the same row.
func WorstCase(rows []FeeRow) (FeeRow, bool) {
	var out FeeRow
	found := false
	for _, r := range rows {
		if !r.Valid() {
			continue
		}
		if !found {
			out, found = r, true
			continue
		}
		out.Maker = decimal.Max(out.Maker, r.Maker)
		out.Taker = decimal.Max(out.Taker, r.Taker)
	}
	return out, found
}

// ResolveFees turns fetched rows into a schedule, falling back to the static
// one when the fetch failed or nothing usable came back.
func ResolveFees(venue string, rows []FeeRow, fetchErr error, fallback core.FeeSchedule) core.FeeSchedule {
	if fetchErr != nil {
		log.Printf("level=WARN event=fees_fallback venue=%s err=%q", venue, fetchErr.Error())
		return withNote(fallback, "static schedule: "+core.Truncate(fetchErr.Error(), 128))
	}
	worst, ok := WorstCase(rows)
	if !ok {
		log.Printf("level=WARN event=fees_fallback venue=%s reason=no_valid_rows rows=%d", venue, len(rows))
		return withNote(fallback, "static schedule: no valid fee rows")
	}
	return core.FeeSchedule{
		MakerRate: worst.Maker,
		TakerRate: worst.Taker,
		Notes:     fmt.Sprintf("worst case of %d account rows", len(rows)),
	}
}

func withNote(s core.FeeSchedule, note string) core.FeeSchedule {
	if s.Notes != "" {
		note = s.Notes + "; " + note
	}
	s.Notes = note
	return s
}
