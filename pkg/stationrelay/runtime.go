package stationrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caltek/urbanova-gcp-client/internal/adapters/metasource"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/observability"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/rpc"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/sampler"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/spool"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/store"
	"github.com/caltek/urbanova-gcp-client/internal/app/config"
	"github.com/caltek/urbanova-gcp-client/internal/app/relay"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source        MetadataSource
	sampler       Sampler
	connectStore  StoreConnector
	dialBus       BusDialer
	spool         Spool
	observability Observability
	logger        *slog.Logger
	registry      *prometheus.Registry
}

// WithMetadataSource replaces the JSON metadata file reader.
func WithMetadataSource(src MetadataSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
	}
}

// WithSampler injects a custom telemetry source (serial logger, MQTT, simulators, etc.).
func WithSampler(s Sampler) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sampler = s
	}
}

// WithStoreConnector points the relay at another metadata store.
func WithStoreConnector(fn StoreConnector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.connectStore = fn
	}
}

// WithBusDialer replaces the AMQP bridge.
func WithBusDialer(fn BusDialer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.dialBus = fn
	}
}

// WithSpool lets callers bring their own spool or reuse an existing instance.
func WithSpool(s Spool) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.spool = s
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger sends the default observability backend's log lines to logger
// instead of the one described by the log section.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers relay metrics on reg and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// Runtime wires the metadata source, sampler, store, bus and spool into a
// relay loop and exposes simple lifecycle hooks for embedding the relay in
// any Go service.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	source     ports.MetadataSource
	sampler    ports.Sampler
	spool      ports.Spool
	loop       *relay.Loop
	registry   *prometheus.Registry
	closers    []io.Closer
	metricsSrv *http.Server
	metricsLn  net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime bootstraps the default adapters (file metadata source,
// synthetic, OPC UA or MQTT sampler, Postgres gateway, AMQP bridge, file spool,
// Prometheus observability). RuntimeOption values override any of them.
// Store and bus sessions are opened by the first cycle, not here.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg}
	built := false
	defer func() {
		if !built {
			_ = rt.closeOwned()
		}
	}()

	rt.registry = overrides.registry
	if rt.registry == nil {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	rt.obs = overrides.observability
	if rt.obs == nil {
		logger := overrides.logger
		if logger == nil {
			l, closer, err := observability.NewLogger(cfg.Log)
			if err != nil {
				return nil, err
			}
			logger = l
			rt.closers = append(rt.closers, closer)
		}
		rt.obs = observability.NewPromObs(rt.registry, logger)
	}

	rt.source = overrides.source
	if rt.source == nil {
		rt.source = metasource.NewFileSource(cfg.Station.MetaFile)
	}

	rt.sampler = overrides.sampler
	if rt.sampler == nil {
		s, closer, err := defaultSampler(cfg.Sampler)
		if err != nil {
			return nil, err
		}
		rt.sampler = s
		if closer != nil {
			rt.closers = append(rt.closers, closer)
		}
	}

	connect := overrides.connectStore
	if connect == nil {
		connect = defaultStoreConnector(cfg.Store)
	}
	dial := overrides.dialBus
	if dial == nil {
		dial = defaultBusDialer(cfg.Bus, rt.obs)
	}

	rt.spool = overrides.spool
	if rt.spool == nil && cfg.Spool.On() {
		sp, err := spool.Open(cfg.Spool.Dir)
		if err != nil {
			return nil, err
		}
		rt.spool = sp
		rt.closers = append(rt.closers, sp)
	}

	loop, err := relay.New(relay.Config{
		Salt:        cfg.Station.Salt,
		Destination: cfg.Bus.Queue,
		Policy:      cfg.Relay.Policy(),
	}, relay.Deps{
		Source:       rt.source,
		Sampler:      rt.sampler,
		ConnectStore: connect,
		DialBus:      dial,
		Spool:        rt.spool,
		Obs:          rt.obs,
	})
	if err != nil {
		return nil, err
	}
	rt.loop = loop

	built = true
	return rt, nil
}

// RunCycle performs a single relay cycle; useful for cron-style embedding.
func (r *Runtime) RunCycle(ctx context.Context) (CycleReport, error) {
	return r.loop.RunCycle(ctx)
}

// Run starts the metrics server and relays until ctx is cancelled or a
// fatal failure stops the loop. It shuts the runtime down before returning.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if err := r.startMetrics(); err != nil {
		return err
	}
	r.obs.LogInfo("relay_started",
		ports.Field{Key: "queue", Value: r.cfg.Bus.Queue},
		ports.Field{Key: "meta_file", Value: r.cfg.Station.MetaFile},
	)

	runErr := r.loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

// Shutdown stops the metrics server and releases sessions, the spool and
// any other resource the runtime opened itself.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		var errs []error

		if r.metricsSrv != nil {
			if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if r.loop != nil {
			if err := r.loop.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.closeOwned(); err != nil {
			errs = append(errs, err)
		}
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}

// MetricsAddr is the address the metrics server listens on, empty until Run.
func (r *Runtime) MetricsAddr() string {
	if r.metricsLn == nil {
		return ""
	}
	return r.metricsLn.Addr().String()
}

// Registry is the Prometheus registry served on /metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

func (r *Runtime) startMetrics() error {
	if r.cfg.Metrics.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", r.cfg.Metrics.Addr, err)
	}
	r.metricsLn = ln
	r.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
	return nil
}

func (r *Runtime) closeOwned() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func defaultSampler(cfg config.SamplerConfig) (ports.Sampler, io.Closer, error) {
	switch cfg.Kind {
	case config.SamplerOPCUA:
		s, err := sampler.NewOPCUASampler(cfg.OPCUA)
		if err != nil {
			return nil, nil, fmt.Errorf("opcua sampler: %w", err)
		}
		return s, s, nil
	case config.SamplerMQTT:
		s, err := sampler.NewMQTTSampler(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt sampler: %w", err)
		}
		return s, s, nil
	case config.SamplerSynthetic, "":
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return sampler.NewSynthetic(seed), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown sampler kind %q", cfg.Kind)
	}
}

func defaultStoreConnector(cfg config.StoreConfig) ports.StoreConnector {
	tc := cfg.TableConfig()
	return func(ctx context.Context) (ports.MetaStore, error) {
		g, err := store.Connect(ctx, cfg.ConnString, tc)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

func defaultBusDialer(cfg rpc.Config, obs ports.Observability) ports.BusDialer {
	return func(ctx context.Context) (ports.Caller, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := rpc.Dial(cfg, rpc.WithObservability(obs))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
