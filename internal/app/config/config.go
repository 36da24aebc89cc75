package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caltek/urbanova-gcp-client/internal/adapters/observability"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/rpc"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/sampler"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/store"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Secrets that may be kept out of the YAML file.
const (
	EnvBusPassword = "STATION_RELAY_BUS_PASSWORD"
	EnvStoreConn   = "STATION_RELAY_STORE_CONN"
)

const (
	SamplerSynthetic = "synthetic"
	SamplerOPCUA     = "opcua"
	SamplerMQTT      = "mqtt"
)

type Config struct {
	Station StationConfig           `yaml:"station"`
	Bus     rpc.Config              `yaml:"bus"`
	Store   StoreConfig             `yaml:"store"`
	Relay   RelayConfig             `yaml:"relay"`
	Sampler SamplerConfig           `yaml:"sampler"`
	Spool   SpoolConfig             `yaml:"spool"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     observability.LogConfig `yaml:"log"`
}

type StationConfig struct {
	MetaFile string `yaml:"meta_file"`
	Salt     string `yaml:"salt"`
}

type StoreConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
	// Fields overrides the insert column list: signature, station id, the
	// eighteen sensor fields and the timestamp, in that order.
	Fields []string `yaml:"fields"`
}

// TableConfig converts the store section into the gateway table layout.
func (s StoreConfig) TableConfig() store.TableConfig {
	return store.TableConfig{Table: s.Table, Fields: append([]string(nil), s.Fields...)}
}

type RelayConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	ReconnectEachCycle bool          `yaml:"reconnect_each_cycle"`
}

// Policy converts the relay section into the loop policy.
func (r RelayConfig) Policy() ports.Policy {
	return ports.Policy{
		MinInterval:        r.MinInterval,
		MaxInterval:        r.MaxInterval,
		InitialBackoff:     r.InitialBackoff,
		MaxBackoff:         r.MaxBackoff,
		ReconnectEachCycle: r.ReconnectEachCycle,
	}
}

type SamplerConfig struct {
	Kind  string              `yaml:"kind"`
	Seed  uint64              `yaml:"seed"`
	OPCUA sampler.OPCUAConfig `yaml:"opcua"`
	MQTT  sampler.MQTTConfig  `yaml:"mqtt"`
}

type SpoolConfig struct {
	Dir     string `yaml:"dir"`
	Enabled *bool  `yaml:"enabled"`
}

// On reports whether spooling is enabled; it is unless set to false.
func (s SpoolConfig) On() bool { return s.Enabled == nil || *s.Enabled }

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBusPassword); ok {
		c.Bus.Password = v
	}
	if v, ok := lookup(EnvStoreConn); ok {
		c.Store.ConnString = v
	}
}

func (c *Config) applyDefaults() {
	if c.Station.MetaFile == "" {
		c.Station.MetaFile = "./data/meta.json"
	}
	if c.Store.Table == "" {
		c.Store.Table = "meta"
	}
	if c.Relay.MinInterval == 0 {
		c.Relay.MinInterval = 2 * time.Second
	}
	if c.Relay.MaxInterval == 0 {
		c.Relay.MaxInterval = 5 * time.Second
	}
	if c.Relay.InitialBackoff == 0 {
		c.Relay.InitialBackoff = time.Second
	}
	if c.Relay.MaxBackoff == 0 {
		c.Relay.MaxBackoff = time.Minute
	}
	c.Sampler.Kind = strings.ToLower(c.Sampler.Kind)
	if c.Sampler.Kind == "" {
		c.Sampler.Kind = SamplerSynthetic
	}
	switch c.Sampler.Kind {
	case SamplerOPCUA:
		c.Sampler.OPCUA.ApplyDefaults()
	case SamplerMQTT:
		c.Sampler.MQTT.ApplyDefaults()
	}
	if c.Spool.Dir == "" {
		c.Spool.Dir = "./data/spool"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Bus.ApplyDefaults()
	c.Log.ApplyDefaults()
}

func (c *Config) validate() error {
	var errs []error
	if c.Station.Salt == "" {
		errs = append(errs, errors.New("station.salt is required"))
	}
	if err := c.Bus.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus config: %w", err))
	}
	if c.Store.ConnString == "" {
		errs = append(errs, errors.New("store.conn_string is required"))
	}
	if n := len(c.Store.Fields); n != 0 && n != store.InsertFieldCount {
		errs = append(errs, fmt.Errorf("store.fields lists %d columns, want %d", n, store.InsertFieldCount))
	}
	if c.Relay.MinInterval < 0 || c.Relay.MaxInterval < c.Relay.MinInterval {
		errs = append(errs, fmt.Errorf("relay interval range %s..%s is invalid", c.Relay.MinInterval, c.Relay.MaxInterval))
	}
	if c.Relay.MaxBackoff < c.Relay.InitialBackoff {
		errs = append(errs, errors.New("relay.max_backoff must not be below relay.initial_backoff"))
	}
	switch c.Sampler.Kind {
	case SamplerSynthetic:
	case SamplerOPCUA:
		if err := c.Sampler.OPCUA.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sampler.opcua config: %w", err))
		}
	case SamplerMQTT:
		if err := c.Sampler.MQTT.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sampler.mqtt config: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sampler.kind %q", c.Sampler.Kind))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log config: %w", err))
	}
	return errors.Join(errs...)
}
