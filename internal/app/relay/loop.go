package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

type Config struct {
	Salt        string
	Destination string
	Policy      ports.Policy
}

// Deps are the collaborators of one Loop. Spool and Obs are optional.
type Deps struct {
	Source       ports.MetadataSource
	Sampler      ports.Sampler
	ConnectStore ports.StoreConnector
	DialBus      ports.BusDialer
	Spool        ports.Spool
	Obs          ports.Observability
}

// CycleReport describes what one cycle did.
type CycleReport struct {
	StationID   string
	Fingerprint domain.Fingerprint
	Changed     bool
	PriorID     int64
	Replayed    int
	Spooled     int
	MetaReply   string
	DataReply   string
	DataSkipped bool
}

// Loop relays one station. It owns its store and bus sessions, keeps them
// across cycles while they stay healthy and replaces them when they fail.
// Cycles never overlap.
type Loop struct {
	cfg          Config
	source       ports.MetadataSource
	sampler      ports.Sampler
	connectStore ports.StoreConnector
	dialBus      ports.BusDialer
	spool        ports.Spool
	obs          ports.Observability

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rnd   *rand.Rand

	store   ports.MetaStore
	bus     ports.Caller
	healthy bool
}

func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("relay: metadata source is required")
	case deps.Sampler == nil:
		return nil, errors.New("relay: sampler is required")
	case deps.ConnectStore == nil:
		return nil, errors.New("relay: store connector is required")
	case deps.DialBus == nil:
		return nil, errors.New("relay: bus dialer is required")
	case cfg.Destination == "":
		return nil, errors.New("relay: destination queue is required")
	}
	obs := deps.Obs
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Loop{
		cfg:          cfg,
		source:       deps.Source,
		sampler:      deps.Sampler,
		connectStore: deps.ConnectStore,
		dialBus:      deps.DialBus,
		spool:        deps.Spool,
		obs:          obs,
		now:          time.Now,
		sleep:        sleepCtx,
		rnd:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}, nil
}

// Run repeats cycles until ctx is done or a cycle fails fatally. Recoverable
// failures are logged and the next cycle starts after the usual pause, or
// after a growing backoff when a connection could not be established.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.Close(); err != nil {
			l.obs.LogError("relay_close_failed", err)
		}
	}()

	bo := newBackoff(l.cfg.Policy.InitialBackoff, l.cfg.Policy.MaxBackoff, l.rnd)
	for {
		if ctx.Err() != nil {
			return nil
		}

		rep, err := l.RunCycle(ctx)
		wait := interval(l.cfg.Policy.MinInterval, l.cfg.Policy.MaxInterval, l.rnd)
		switch {
		case err == nil:
			bo.Reset()
			l.obs.LogInfo("cycle_done",
				ports.Field{Key: "station_id", Value: rep.StationID},
				ports.Field{Key: "changed", Value: rep.Changed},
				ports.Field{Key: "replayed", Value: rep.Replayed},
			)
		case ctx.Err() != nil:
			return nil
		case ports.IsFatal(err):
			l.obs.LogCritical("relay_stopped", err, opFields(err, rep)...)
			return err
		default:
			l.obs.LogError("cycle_failed", err, opFields(err, rep)...)
			if isConnectionFailure(err) {
				wait = bo.Next()
			}
		}

		if err := l.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle performs one load, fingerprint, compare, persist, relay pass.
// A panic inside the cycle is returned as an error and never escapes.
func (l *Loop) RunCycle(ctx context.Context) (rep CycleReport, err error) {
	start := l.now()
	l.obs.IncCounter("relay_cycles_total", 1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("relay cycle panic: %v", r)
			l.dropSessions()
		}
		if err != nil {
			l.obs.IncCounter("relay_cycle_failures_total", 1)
		} else {
			l.healthy = true
		}
		if l.cfg.Policy.ReconnectEachCycle {
			l.dropSessions()
		}
		l.reportSpool()
		l.obs.ObserveLatency("relay_cycle_duration_seconds", l.now().Sub(start).Seconds())
	}()

	err = l.cycle(ctx, &rep)
	return rep, err
}

func (l *Loop) cycle(ctx context.Context, rep *CycleReport) error {
	store, err := l.ensureStore(ctx)
	if err != nil {
		return err
	}

	meta, err := l.source.Load(ctx)
	if err != nil {
		return l.metadataFailure("load_metadata", err)
	}
	sig, err := domain.ComputeFingerprint(l.cfg.Salt, meta)
	if err != nil {
		return l.metadataFailure("fingerprint", err)
	}
	rep.StationID, rep.Fingerprint = meta.StationID, sig

	prior, found, err := store.LatestFingerprint(ctx, meta.StationID)
	if err != nil {
		return l.storeFailure(err)
	}
	rep.Changed = !found || prior != sig

	bus, err := l.ensureBus(ctx)
	if err != nil {
		return err
	}
	if rep.Replayed, err = l.replay(ctx, bus); err != nil {
		return err
	}

	priorID, hasPrior, err := store.LatestRecordID(ctx, meta.StationID)
	if err != nil {
		return l.storeFailure(err)
	}
	if hasPrior {
		rep.PriorID = priorID
	}

	var errs []error
	now := l.now()
	switch {
	case rep.Changed:
		rec := domain.NewMetaRecord(meta, sig, now)
		if err := store.InsertRecord(ctx, rec); err != nil {
			return l.storeFailure(err)
		}
		l.obs.IncCounter("relay_meta_inserted_total", 1)
		l.obs.LogInfo("meta_inserted",
			ports.Field{Key: "station_id", Value: meta.StationID},
			ports.Field{Key: "fingerprint", Value: sig.String()},
			ports.Field{Key: "prior_id", Value: rep.PriorID},
		)
		reply, err := l.relayMeta(ctx, bus, domain.MetaPayload(rep.PriorID, rec), rep)
		if err != nil {
			errs = append(errs, err)
		}
		rep.MetaReply = reply
	case hasPrior:
		if err := store.TouchRecord(ctx, priorID, now); err != nil {
			return l.storeFailure(err)
		}
		l.obs.IncCounter("relay_meta_touched_total", 1)
	default:
		// The newest row carries another station id; leave it alone.
		l.obs.LogInfo("touch_skipped", ports.Field{Key: "station_id", Value: meta.StationID})
	}

	reading, err := l.sampler.Sample(ctx)
	switch {
	case errors.Is(err, ports.ErrNoSample):
		rep.DataSkipped = true
		l.obs.LogInfo("data_skipped", ports.Field{Key: "reason", Value: err.Error()})
	case err != nil:
		errs = append(errs, fmt.Errorf("sample: %w", err))
	default:
		reply, err := l.relay(ctx, bus, domain.DataPayload(reading), rep)
		if err != nil {
			errs = append(errs, err)
		}
		rep.DataReply = reply
	}

	return errors.Join(errs...)
}

// relay sends one payload. Undeliverable payloads go to the spool, when
// there is one, for the next cycle to replay.
func (l *Loop) relay(ctx context.Context, bus ports.Caller, payload string, rep *CycleReport) (string, error) {
	start := l.now()
	reply, err := l.call(ctx, bus, payload)
	if err == nil {
		return reply, nil
	}
	if l.spool != nil && (isDeliveryFailure(err) || ctx.Err() != nil) {
		if _, serr := l.spool.Append(l.envelope(payload, start)); serr != nil {
			return "", errors.Join(err, fmt.Errorf("spool append: %w", serr))
		}
		rep.Spooled++
		l.obs.IncCounter("relay_spooled_total", 1)
	}
	return "", err
}

// relayMeta spools the meta payload before the call and commits it once the
// reply arrives. A record that is already inserted is then relayed by a
// later cycle even when this one is cancelled or the process dies mid-call.
func (l *Loop) relayMeta(ctx context.Context, bus ports.Caller, payload string, rep *CycleReport) (string, error) {
	if l.spool == nil {
		return l.relay(ctx, bus, payload, rep)
	}
	id, err := l.spool.Append(l.envelope(payload, l.now()))
	if err != nil {
		l.obs.LogError("spool_append_failed", err)
		return l.relay(ctx, bus, payload, rep)
	}

	reply, err := l.call(ctx, bus, payload)
	if err != nil {
		rep.Spooled++
		l.obs.IncCounter("relay_spooled_total", 1)
		return "", err
	}
	if err := l.spool.Commit(id); err != nil {
		l.obs.LogError("spool_commit_failed", err, ports.Field{Key: "entry", Value: uint64(id)})
		return reply, nil
	}
	if err := l.spool.TruncateCommitted(); err != nil {
		l.obs.LogError("spool_truncate_failed", err)
	}
	return reply, nil
}

// call performs one round trip and drops the bus session on transport loss.
func (l *Loop) call(ctx context.Context, bus ports.Caller, payload string) (string, error) {
	start := l.now()
	reply, err := bus.Call(ctx, payload, l.cfg.Destination)
	if err != nil {
		if errors.Is(err, ports.ErrBusConnection) {
			l.closeBus()
		}
		return "", err
	}
	latency := l.now().Sub(start)
	l.obs.ObserveLatency("relay_call_latency_seconds", latency.Seconds())
	l.obs.LogInfo("relayed",
		ports.Field{Key: "tag", Value: domain.PayloadTag(payload)},
		ports.Field{Key: "reply", Value: reply},
		ports.Field{Key: "latency_ms", Value: latency.Milliseconds()},
	)
	return reply, nil
}

func (l *Loop) envelope(payload string, at time.Time) domain.Envelope {
	return domain.Envelope{Destination: l.cfg.Destination, Body: payload, CreatedAt: at}
}

// replay delivers spooled payloads in order, committing each confirmed one.
// It stops at the first failure and leaves the rest for a later cycle.
func (l *Loop) replay(ctx context.Context, bus ports.Caller) (int, error) {
	if l.spool == nil || l.spool.Stats().Pending() == 0 {
		return 0, nil
	}

	var sent int
	err := l.spool.Iterate(l.spool.Stats().OldestUncommitted, func(id ports.SpoolEntryID, e domain.Envelope) error {
		reply, err := bus.Call(ctx, e.Body, e.Destination)
		if err != nil {
			if errors.Is(err, ports.ErrBusConnection) {
				l.closeBus()
			}
			return fmt.Errorf("replay spool entry %d: %w", id, err)
		}
		sent++
		l.obs.LogInfo("replayed",
			ports.Field{Key: "entry", Value: uint64(id)},
			ports.Field{Key: "tag", Value: domain.PayloadTag(e.Body)},
			ports.Field{Key: "reply", Value: reply},
		)
		return l.spool.Commit(id)
	})
	if err != nil {
		return sent, err
	}
	if err := l.spool.TruncateCommitted(); err != nil {
		l.obs.LogError("spool_truncate_failed", err)
	}
	return sent, nil
}

func (l *Loop) ensureStore(ctx context.Context) (ports.MetaStore, error) {
	if l.store != nil {
		err := l.store.Ping(ctx)
		if err == nil {
			return l.store, nil
		}
		l.obs.LogError("store_unhealthy", err)
		l.closeStore()
	}
	s, err := l.connectStore(ctx)
	if err != nil {
		return nil, err
	}
	l.store = s
	return s, nil
}

func (l *Loop) ensureBus(ctx context.Context) (ports.Caller, error) {
	if l.bus != nil {
		if l.bus.Alive() {
			return l.bus, nil
		}
		l.obs.LogInfo("bus_reconnect")
		l.closeBus()
	}
	b, err := l.dialBus(ctx)
	if err != nil {
		return nil, err
	}
	l.bus = b
	return b, nil
}

// metadataFailure makes malformed metadata fatal until the relay has
// completed a cycle; afterwards a bad edit of the file is retried.
func (l *Loop) metadataFailure(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, ports.ErrMalformedMetadata) && !l.healthy {
		return ports.Fatal(err)
	}
	return err
}

func (l *Loop) storeFailure(err error) error {
	if errors.Is(err, ports.ErrStoreConnection) {
		l.closeStore()
	}
	return err
}

func (l *Loop) reportSpool() {
	if l.spool == nil {
		return
	}
	l.obs.SetGauge("relay_spool_pending", float64(l.spool.Stats().Pending()))
}

func (l *Loop) closeStore() {
	if l.store == nil {
		return
	}
	if err := l.store.Close(); err != nil {
		l.obs.LogError("store_close_failed", err)
	}
	l.store = nil
}

func (l *Loop) closeBus() {
	if l.bus == nil {
		return
	}
	if err := l.bus.Close(); err != nil {
		l.obs.LogError("bus_close_failed", err)
	}
	l.bus = nil
}

func (l *Loop) dropSessions() {
	l.closeStore()
	l.closeBus()
}

// Close releases the store and bus sessions.
func (l *Loop) Close() error {
	var err error
	if l.store != nil {
		err = errors.Join(err, l.store.Close())
		l.store = nil
	}
	if l.bus != nil {
		err = errors.Join(err, l.bus.Close())
		l.bus = nil
	}
	return err
}

func isConnectionFailure(err error) bool {
	return errors.Is(err, ports.ErrStoreConnection) || errors.Is(err, ports.ErrBusConnection)
}

func isDeliveryFailure(err error) bool {
	return errors.Is(err, ports.ErrCallTimeout) || errors.Is(err, ports.ErrBusConnection)
}

func opFields(err error, rep CycleReport) []ports.Field {
	fields := make([]ports.Field, 0, 2)
	var op *ports.OpError
	if errors.As(err, &op) {
		fields = append(fields, ports.Field{Key: "op", Value: op.Op})
	}
	if rep.StationID != "" {
		fields = append(fields, ports.Field{Key: "station_id", Value: rep.StationID})
	}
	return fields
}
