package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

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

	if err := flow.Run(ctx); err != nil {
		slog.Error("relay exited", "err", err)
		os.Exit(1)
	}
}
