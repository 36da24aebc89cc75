package stationrelay

import (
	base "github.com/caltek/urbanova-gcp-client/pkg/stationrelay"
)

// Re-exported errors for convenience.
var (
	ErrMalformedMetadata    = base.ErrMalformedMetadata
	ErrStoreAuth            = base.ErrStoreAuth
	ErrStoreNotFound        = base.ErrStoreNotFound
	ErrStoreConnection      = base.ErrStoreConnection
	ErrStoreQuery           = base.ErrStoreQuery
	ErrBusConnection        = base.ErrBusConnection
	ErrCallTimeout          = base.ErrCallTimeout
	ErrNoSample             = base.ErrNoSample
	ErrChannelSamplerClosed = base.ErrChannelSamplerClosed
)

// Type aliases so consumers can import github.com/caltek/urbanova-gcp-client directly.
type (
	Config          = base.Config
	StationConfig   = base.StationConfig
	BusConfig       = base.BusConfig
	StoreConfig     = base.StoreConfig
	RelayConfig     = base.RelayConfig
	SamplerConfig   = base.SamplerConfig
	OPCUAConfig     = base.OPCUAConfig
	MQTTConfig      = base.MQTTConfig
	SpoolConfig     = base.SpoolConfig
	MetricsConfig   = base.MetricsConfig
	LogConfig       = base.LogConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	StationMetadata = base.StationMetadata
	Sensor          = base.Sensor
	Fingerprint     = base.Fingerprint
	MetaRecord      = base.MetaRecord
	Envelope        = base.Envelope
	MetadataSource  = base.MetadataSource
	Sampler         = base.Sampler
	SampleFunc      = base.SampleFunc
	MetaStore       = base.MetaStore
	StoreConnector  = base.StoreConnector
	Caller          = base.Caller
	BusDialer       = base.BusDialer
	Spool           = base.Spool
	SpoolEntryID    = base.SpoolEntryID
	SpoolStats      = base.SpoolStats
	Observability   = base.Observability
	Field           = base.Field
	Policy          = base.Policy
	CycleReport     = base.CycleReport
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInMetadata(src MetadataSource) StreamInOption {
	return base.StreamInMetadata(src)
}

func StreamInSampler(s Sampler) StreamInOption {
	return base.StreamInSampler(s)
}

func StreamInCallback(name string, fn SampleFunc) StreamInOption {
	return base.StreamInCallback(name, fn)
}

func StreamInSpool(s Spool) StreamInOption {
	return base.StreamInSpool(s)
}

func StreamOutStore(fn StoreConnector) StreamOutOption {
	return base.StreamOutStore(fn)
}

func StreamOutBus(fn BusDialer) StreamOutOption {
	return base.StreamOutBus(fn)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithMetadataSource(src MetadataSource) RuntimeOption {
	return base.WithMetadataSource(src)
}

func WithSampler(s Sampler) RuntimeOption {
	return base.WithSampler(s)
}

func WithStoreConnector(fn StoreConnector) RuntimeOption {
	return base.WithStoreConnector(fn)
}

func WithBusDialer(fn BusDialer) RuntimeOption {
	return base.WithBusDialer(fn)
}

func WithSpool(s Spool) RuntimeOption {
	return base.WithSpool(s)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Sampler adapters.
func NewCallbackSampler(name string, fn SampleFunc) Sampler {
	return base.NewCallbackSampler(name, fn)
}

func NewChannelSampler(name string, buffer int) (Sampler, chan<- string, func()) {
	return base.NewChannelSampler(name, buffer)
}

// Fingerprint helpers.
func ComputeFingerprint(salt string, meta *StationMetadata) (Fingerprint, error) {
	return base.ComputeFingerprint(salt, meta)
}

func IsFatal(err error) bool {
	return base.IsFatal(err)
}
