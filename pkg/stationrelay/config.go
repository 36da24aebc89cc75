package stationrelay

import (
	"github.com/caltek/urbanova-gcp-client/internal/adapters/observability"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/rpc"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/sampler"
	"github.com/caltek/urbanova-gcp-client/internal/app/config"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// StationConfig names the metadata file and the fingerprint salt.
	StationConfig = config.StationConfig
	// BusConfig holds broker credentials and the destination queue.
	BusConfig = rpc.Config
	// StoreConfig configures the metadata history table.
	StoreConfig = config.StoreConfig
	// RelayConfig controls cycle pacing and reconnect backoff.
	RelayConfig = config.RelayConfig
	// SamplerConfig selects the telemetry source.
	SamplerConfig = config.SamplerConfig
	// OPCUAConfig holds connection + node details for live sampling.
	OPCUAConfig = sampler.OPCUAConfig
	// MQTTConfig names the broker topic a station logger publishes on.
	MQTTConfig = sampler.MQTTConfig
	// SpoolConfig configures on-disk retention of undelivered payloads.
	SpoolConfig = config.SpoolConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig configures level, format and rotation of the process log.
	LogConfig = observability.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes YAML held in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
