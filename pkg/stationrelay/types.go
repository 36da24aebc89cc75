package stationrelay

import (
	"github.com/caltek/urbanova-gcp-client/internal/app/relay"
	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// StationMetadata is the static description of a station and its six sensors.
type StationMetadata = domain.StationMetadata

// Sensor is one of the six sensor descriptors.
type Sensor = domain.Sensor

// Fingerprint identifies a metadata revision.
type Fingerprint = domain.Fingerprint

// MetaRecord is a persisted metadata revision.
type MetaRecord = domain.MetaRecord

// Envelope is a spooled payload addressed to a queue.
type Envelope = domain.Envelope

// MetadataSource yields the current station metadata each cycle.
type MetadataSource = ports.MetadataSource

// Sampler produces one telemetry reading per cycle.
type Sampler = ports.Sampler

// MetaStore persists the metadata history.
type MetaStore = ports.MetaStore

// StoreConnector opens a MetaStore session.
type StoreConnector = ports.StoreConnector

// Caller is the request/response side of the bus.
type Caller = ports.Caller

// BusDialer opens a Caller session.
type BusDialer = ports.BusDialer

// Spool keeps undelivered payloads for replay.
type Spool = ports.Spool

// SpoolEntryID uniquely identifies a spool entry.
type SpoolEntryID = ports.SpoolEntryID

// SpoolStats exposes spool watermarks for observability.
type SpoolStats = ports.SpoolStats

// Observability emits metrics/logs about cycles, calls and the spool.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// Policy controls cycle pacing and reconnect backoff.
type Policy = ports.Policy

// CycleReport describes what one relay cycle did.
type CycleReport = relay.CycleReport

// Failure kinds, matched with errors.Is.
var (
	ErrMalformedMetadata = ports.ErrMalformedMetadata
	ErrStoreAuth         = ports.ErrStoreAuth
	ErrStoreNotFound     = ports.ErrStoreNotFound
	ErrStoreConnection   = ports.ErrStoreConnection
	ErrStoreQuery        = ports.ErrStoreQuery
	ErrBusConnection     = ports.ErrBusConnection
	ErrCallTimeout       = ports.ErrCallTimeout
	ErrNoSample          = ports.ErrNoSample
)

// ComputeFingerprint digests salt and the eighteen sensor fields.
func ComputeFingerprint(salt string, meta *StationMetadata) (Fingerprint, error) {
	return domain.ComputeFingerprint(salt, meta)
}

// IsFatal reports whether err stops the relay rather than being retried.
func IsFatal(err error) bool { return ports.IsFatal(err) }
