// Command ordertrack follows one order's status from the terminal, the way
// the storefront's order page does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pharmacy-order-status/config"
	"pharmacy-order-status/internal/tracker"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "storefront base URL")
	orderID := flag.Int64("order", 0, "order id to follow")
	configPath := flag.String("config", "", "optional config file for tracker settings")
	verbose := flag.Bool("v", false, "log connection events")
	flag.Parse()

	if *orderID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: ordertrack -order <id> [-server url]")
		os.Exit(2)
	}

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	logger := zap.NewNop()
	if *verbose {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := tracker.NewHTTPFetcher(*server, nil)

	// First render comes from the persisted status.
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	initial, err := fetcher.FetchStatus(fetchCtx, *orderID)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load order %d: %v\n", *orderID, err)
		os.Exit(1)
	}

	mgr := tracker.NewManager(*server, tracker.WithPath(cfg.Realtime.Path), tracker.WithManagerLogger(logger))
	defer mgr.Close()

	tr := tracker.NewTracker(mgr, fetcher, *orderID, initial.Status,
		tracker.WithReconcileInterval(cfg.Tracker.ReconcileInterval),
		tracker.WithLogger(logger))
	if err := tr.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer tr.Stop()

	fmt.Printf("order #%d: %s\n", *orderID, initial.Status.Label())
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-tr.Updates():
			if !ok {
				return
			}
			fmt.Printf("order #%d: %s\n", *orderID, status.Label())
		}
	}
}
