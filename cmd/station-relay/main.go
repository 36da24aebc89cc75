package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	stationrelay "github.com/caltek/urbanova-gcp-client"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/metasource"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/observability"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/rpc"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "fingerprint":
		err = fingerprintCommand(os.Args[2:])
	case "ack":
		err = ackCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		slog.Error("station-relay failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to relay configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := stationrelay.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := stationrelay.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if _, err := metasource.NewFileSource(cfg.Station.MetaFile).Load(context.Background()); err != nil {
		return fmt.Errorf("metadata %s: %w", cfg.Station.MetaFile, err)
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func fingerprintCommand(args []string) error {
	fs := pflag.NewFlagSet("fingerprint", pflag.ExitOnError)
	metaPath := fs.StringP("meta", "m", "./data/meta.json", "Path to the station metadata file")
	salt := fs.String("salt", "", "Fingerprint salt")
	cfgPath := fs.StringP("config", "c", "", "Take meta file and salt from this configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *cfgPath != "" {
		cfg, err := stationrelay.LoadConfig(*cfgPath)
		if err != nil {
			return err
		}
		if !fs.Changed("meta") {
			*metaPath = cfg.Station.MetaFile
		}
		if !fs.Changed("salt") {
			*salt = cfg.Station.Salt
		}
	}

	meta, err := metasource.NewFileSource(*metaPath).Load(context.Background())
	if err != nil {
		return err
	}
	sig, err := stationrelay.ComputeFingerprint(*salt, meta)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", meta.StationID, sig)
	return nil
}

// ackCommand answers relay requests on the configured queue, standing in for
// the central service during bench tests.
func ackCommand(args []string) error {
	fs := pflag.NewFlagSet("ack", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to relay configuration file")
	queue := fs.StringP("queue", "q", "", "Queue to serve; defaults to bus.queue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := stationrelay.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *queue == "" {
		*queue = cfg.Bus.Queue
	}

	logger, closer, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	obs := observability.NewPromObs(nil, logger)

	conn, ch, err := rpc.DialChannel(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ack responder serving", "queue", *queue, "host", cfg.Bus.Host)
	return rpc.NewResponder(ch, *queue, rpc.AckHandler, obs).Serve(ctx)
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	url := fs.StringP("url", "u", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.DurationP("interval", "i", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(os.Stdout, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(w io.Writer, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"relay_cycles_total":         0,
		"relay_cycle_failures_total": 0,
		"relay_meta_inserted_total":  0,
		"relay_spooled_total":        0,
		"relay_spool_pending":        0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintf(w, "[%s] cycles=%.0f failures=%.0f inserted=%.0f spooled=%.0f spool_pending=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["relay_cycles_total"],
		targets["relay_cycle_failures_total"],
		targets["relay_meta_inserted_total"],
		targets["relay_spooled_total"],
		targets["relay_spool_pending"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`station-relay

Usage:
  station-relay <command> [flags]

Commands:
  run          Start the relay loop using the provided config
  validate     Load and validate a config file and its metadata file
  fingerprint  Print the station id and metadata fingerprint
  ack          Answer relay requests on a queue with ACK:<first field>
  stats        Poll the Prometheus metrics endpoint and print live counters

Examples:
  station-relay run -c ./data/config.yaml
  station-relay validate -c ./data/config.yaml
  station-relay fingerprint -m ./data/meta.json --salt abc
  station-relay ack -c ./data/config.yaml
  station-relay stats -u http://localhost:9100/metrics -i 1s
`)
}
