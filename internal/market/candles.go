package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"spot-connect/internal/core"
)

// maxPages bounds a single retrieval; a year of minute candles at 300 rows
// per page is ~1750 pages.
const maxPages = 5000

var (
	ErrInvalidRange = errors.New("end before start")
	// ErrPageLimit means the range needs more pages than one retrieval may
	// make. No partial series is returned.
	ErrPageLimit = errors.New("candle page limit reached")
)

// PageFunc fetches candles opening within [from, to].
type PageFunc func(ctx context.Context, from, to time.Time) ([]core.Candle, error)

// PageSpec describes how a venue pages candles. Limit pages are row-capped
// and a short page means the range is exhausted. Span pages cover a fixed
// time window each and only an empty page ends the walk.
type PageSpec struct {
	Interval time.Duration
	Limit    int
	Span     time.Duration
	// MaxPages overrides the default page cap when positive.
	MaxPages int
}

// Paginate walks [start, end] page by page. The cursor moves to the newest
// open time seen plus one interval; the walk stops on an empty page, a short
// page, or a cursor that fails to advance. The result is filtered to
// [start, end], deduplicated by open time and sorted ascending.
func Paginate(ctx context.Context, start, end time.Time, spec PageSpec, fetch PageFunc) ([]core.Candle, error) {
	if spec.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", core.ErrUnsupportedGranularity)
	}
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s < %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	limit := spec.MaxPages
	if limit <= 0 {
		limit = maxPages
	}
	var rows []core.Candle
	cursor := start
	for pages := 0; !cursor.After(end); pages++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pages == limit {
			return nil, fmt.Errorf("%w: %d pages, next page at %s of %s", ErrPageLimit, limit, cursor.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		to := end
		switch {
		case spec.Span > 0:
			if w := cursor.Add(spec.Span - spec.Interval); w.Before(to) {
				to = w
			}
		case spec.Limit > 0:
			if w := cursor.Add(spec.Interval * time.Duration(spec.Limit-1)); w.Before(to) {
				to = w
			}
		}
		page, err := fetch(ctx, cursor, to)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)

		latest := page[0].Time
		for _, c := range page[1:] {
			if c.Time.After(latest) {
				latest = c.Time
			}
		}
		next := latest.Add(spec.Interval)
		if spec.Span > 0 && !to.Add(spec.Interval).Before(next) {
			next = to.Add(spec.Interval)
		}
		if !next.After(cursor) {
			break
		}
		cursor = next
		if spec.Span == 0 && spec.Limit > 0 && len(page) < spec.Limit {
			break
		}
	}
	return MergeCandles(rows, start, end), nil
}

// MergeCandles keeps rows opening within [start, end], one per open time
// (later rows win), in ascending order.
func MergeCandles(rows []core.Candle, start, end time.Time) []core.Candle {
	byTime := make(map[int64]core.Candle, len(rows))
	for _, c := range rows {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		c.Time = c.Time.UTC()
		byTime[c.Time.UnixMilli()] = c
	}
	out := make([]core.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
