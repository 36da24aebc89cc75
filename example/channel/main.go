package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	stationrelay "github.com/caltek/urbanova-gcp-client"
)

func main() {
	flow, err := stationrelay.Conf("../../data/config.yaml")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler, feed, closeFeed := stationrelay.NewChannelSampler("serial", 32)
	defer closeFeed()

	go serialReader(ctx, feed)

	if err := flow.StreamIN(stationrelay.StreamInSampler(sampler)).Run(ctx); err != nil {
		slog.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

// serialReader stands in for a logger on a serial line that emits one
// reading per second. Readings that do not fit the buffer are dropped.
func serialReader(ctx context.Context, feed chan<- string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var tips int
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tips++
			reading := fmt.Sprintf("%d,%s,%s", 100000+tips, now.Format("20060102"), now.Format("150405"))
			select {
			case feed <- reading:
			default:
			}
		}
	}
}
