package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"spot-connect/internal/alert"
	"spot-connect/internal/config"
	"spot-connect/internal/exchange"
	"spot-connect/internal/metrics"
	"spot-connect/internal/store"
)

func main() {
	var (
		configPath  string
		venue       string
		product     string
		timeoutSec  int
		outJSONPath string
		allowOrders bool
		checkFlag   string
		candleHours int
		tgChat      string
	)
	flag.StringVar(&configPath, "config", "", "config yaml path (optional)")
	flag.StringVar(&venue, "venue", "binance", "venue: "+strings.Join(config.Venues, "/"))
	flag.StringVar(&product, "product", "BTC/USDT", "product id, e.g. BTC/USD")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowOrders, "allow-orders", false, "allow the lifecycle check to place and cancel a real order")
	flag.StringVar(&checkFlag, "check", "default", "checks to run: default | all | comma list (products,constraints,ticker,fees,candles,lifecycle)")
	flag.IntVar(&candleHours, "candle-hours", 6, "hours of 1m candles to fetch in the candles check")
	flag.StringVar(&tgChat, "telegram-chat", "", "telegram chat id notified on failure; token from TELEGRAM_BOT_TOKEN")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fatal(err.Error())
		}
		cfg = loaded
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 10 {
		timeoutSec = 10
	}
	if candleHours < 1 {
		candleHours = 1
	}

	ex, err := exchange.NewRegistry(cfg, metrics.Default()).New(venue)
	if err != nil {
		fatal(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	s := &suite{
		ex:           ex,
		product:      normalizeProduct(product),
		allowOrders:  allowOrders,
		candleWindow: time.Duration(candleHours) * time.Hour,
		now:          time.Now,
	}
	r := s.run(ctx, checks)
	printSummary(r)

	if outJSONPath != "" {
		if err := store.WriteJSON(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}
	if r.failed() {
		notifier := alert.NewTelegram(os.Getenv("TELEGRAM_BOT_TOKEN"), tgChat, "", 10*time.Second)
		if notifier.Enabled() {
			nctx, ncancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := notifyFailure(nctx, notifier, r); err != nil {
				fmt.Fprintf(os.Stderr, "failure notification not sent: %v\n", err)
			}
			ncancel()
		}
		os.Exit(1)
	}
}

func notifyFailure(ctx context.Context, n alert.Notifier, r report) error {
	var failed []string
	for _, c := range r.Checks {
		if c.Status == statusFail {
			failed = append(failed, c.Name+" ("+c.Error+")")
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return n.Notify(ctx, alert.Format("venuecheck_failed", [][2]string{
		{"venue", r.Venue},
		{"product", r.Product},
		{"failed", strings.Join(failed, "; ")},
	}))
}

func normalizeProduct(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "/", "_", "/").Replace(raw)
}

func printSummary(r report) {
	counts := map[checkStatus]int{}
	for _, c := range r.Checks {
		counts[c.Status]++
	}
	fmt.Printf("\nsummary venue=%s product=%s pass=%d fail=%d skip=%d duration=%s\n",
		r.Venue,
		r.Product,
		counts[statusPass],
		counts[statusFail],
		counts[statusSkip],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
