package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"spot-connect/internal/config"
	"spot-connect/internal/core"
	"spot-connect/internal/exchange"
	"spot-connect/internal/metrics"
	"spot-connect/internal/store"
)

const defaultOutDir = "data"

// chunk bounds one GetCandles call so a long backfill streams to disk.
const chunk = 24 * time.Hour

type candleLine struct {
	Time        string `json:"time"`
	Timestamp   int64  `json:"timestamp"`
	Venue       string `json:"venue"`
	Product     string `json:"product"`
	Granularity int    `json:"granularity_min"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
}

// candleSource is the slice of exchange.Exchange this tool needs.
type candleSource interface {
	Name() string
	GetCandles(ctx context.Context, productID string, granularityMinutes int, start, end time.Time) ([]core.Candle, error)
}

type job struct {
	product     string
	granularity int
	start, end  time.Time
	outDir      string
}

func main() {
	var (
		cfgPath     string
		venue       string
		product     string
		granularity int
		months      int
		startRaw    string
		endRaw      string
		outDir      string
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml (optional)")
	flag.StringVar(&venue, "venue", "binance", "venue: "+strings.Join(config.Venues, "/"))
	flag.StringVar(&product, "product", "BTC/USDT", "product id, e.g. BTC/USD")
	flag.IntVar(&granularity, "granularity", 1, "candle size in minutes")
	flag.IntVar(&months, "months", 6, "how many months to fetch back from now")
	flag.StringVar(&startRaw, "start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	flag.StringVar(&endRaw, "end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("level=ERROR event=config_load_failed path=%s err=%v", cfgPath, err)
		}
		cfg = loaded
	}
	start, end, err := resolveWindow(time.Now(), months, startRaw, endRaw)
	if err != nil {
		log.Fatalf("level=ERROR event=invalid_window err=%v", err)
	}
	ex, err := exchange.NewRegistry(cfg, metrics.Default()).New(venue)
	if err != nil {
		log.Fatalf("level=ERROR event=venue_init_failed venue=%s err=%v", venue, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := job{product: product, granularity: granularity, start: start, end: end, outDir: outDir}
	total, dir, err := run(ctx, ex, j)
	if err != nil {
		log.Fatalf("level=ERROR event=fetch_failed venue=%s product=%s err=%v", ex.Name(), product, err)
	}
	fmt.Printf("done: records=%d output=%s\n", total, dir)
}

// run fetches [start, end) chunk by chunk and writes one JSONL file per UTC
// day under <out>/<venue>/<BASE-QUOTE>/<granularity>m.
func run(ctx context.Context, src candleSource, j job) (int, string, error) {
	base, quote, err := core.ParseProduct(j.product)
	if err != nil {
		return 0, "", err
	}
	productID := core.ProductID(base, quote)
	dir := filepath.Join(j.outDir, src.Name(), base+"-"+quote, strconv.Itoa(j.granularity)+"m")
	lock, err := store.LockDir(dir, store.LockOptions{Takeover: true, StaleAfter: 12 * time.Hour})
	if err != nil {
		return 0, dir, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("level=WARN event=lock_release_failed dir=%s err=%v", dir, err)
		}
	}()
	writer, err := newDateWriter(dir)
	if err != nil {
		return 0, dir, err
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			log.Printf("level=WARN event=writer_close_failed err=%v", closeErr)
		}
	}()

	log.Printf("level=INFO event=fetch_start venue=%s product=%s granularity=%d from=%s to=%s",
		src.Name(), productID, j.granularity, j.start.Format(time.RFC3339), j.end.Format(time.RFC3339))
	total := 0
	for from := j.start; from.Before(j.end); from = from.Add(chunk) {
		to := from.Add(chunk)
		if to.After(j.end) {
			to = j.end
		}
		candles, err := src.GetCandles(ctx, productID, j.granularity, from, to.Add(-time.Millisecond))
		if err != nil {
			return total, dir, err
		}
		for _, c := range candles {
			ts := c.Time.UTC()
			line, err := json.Marshal(candleLine{
				Time:        ts.Format(time.RFC3339),
				Timestamp:   ts.UnixMilli(),
				Venue:       src.Name(),
				Product:     productID,
				Granularity: j.granularity,
				Open:        c.Open.String(),
				High:        c.High.String(),
				Low:         c.Low.String(),
				Close:       c.Close.String(),
				Volume:      c.Volume.String(),
			})
			if err != nil {
				return total, dir, err
			}
			if err := writer.write(ts.Format("2006-01-02"), line); err != nil {
				return total, dir, err
			}
			total++
		}
		log.Printf("level=INFO event=chunk_done venue=%s product=%s day=%s records=%d total=%d",
			src.Name(), productID, from.Format("2006-01-02"), len(candles), total)
	}
	return total, dir, nil
}
