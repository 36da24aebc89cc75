package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caltek/urbanova-gcp-client/pkg/stationrelay"
)

func main() {
	flow, err := stationrelay.Conf("../../data/config.yaml")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rain gauge tips in tenths of a millimetre, stamped with the local time.
	sample := func(context.Context) (string, error) {
		now := time.Now()
		return fmt.Sprintf("%d,%s,%s", 100000+rand.IntN(100), now.Format("20060102"), now.Format("150405")), nil
	}

	if err := flow.StreamIN(stationrelay.StreamInCallback("rain-gauge", sample)).Run(ctx); err != nil {
		slog.Error("relay exited", "err", err)
		os.Exit(1)
	}
}
