package sampler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// OPCUAConfig captures the runtime details required to open an OPC UA session.
type OPCUAConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	// Nodes are read in order; their values lead the reading.
	Nodes []string `yaml:"nodes"`
}

func (c *OPCUAConfig) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Urbanova Station Relay"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
}

func (c *OPCUAConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n); err != nil {
			return fmt.Errorf("parse node id %q: %w", n, err)
		}
	}
	return nil
}

// OPCUASampler reads the configured nodes once per Sample and renders
// <v1>,...,<vn>,<YYYYMMDD>,<HHMMSS>. The session is opened lazily and
// dropped after a failed read so the next call reconnects.
type OPCUASampler struct {
	cfg   OPCUAConfig
	nodes []*ua.NodeID
	now   func() time.Time

	mu     sync.Mutex
	client *opcua.Client
}

func NewOPCUASampler(cfg OPCUAConfig) (*OPCUASampler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nodes := make([]*ua.NodeID, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		id, err := ua.ParseNodeID(n)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", n, err)
		}
		nodes = append(nodes, id)
	}
	return &OPCUASampler{cfg: cfg, nodes: nodes, now: time.Now}, nil
}

func (s *OPCUASampler) Sample(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	if s.client == nil {
		client, err := s.connect(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ports.ErrNoSample, err)
		}
		s.client = client
	}

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, 0, len(s.nodes)),
	}
	for _, id := range s.nodes {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
	}

	resp, err := s.client.Read(ctx, req)
	if err != nil {
		s.dropLocked()
		return "", fmt.Errorf("%w: opcua read: %v", ports.ErrNoSample, err)
	}
	return s.render(resp.Results)
}

func (s *OPCUASampler) render(results []*ua.DataValue) (string, error) {
	if len(results) != len(s.nodes) {
		return "", fmt.Errorf("%w: expected %d results, got %d", ports.ErrNoSample, len(s.nodes), len(results))
	}
	var (
		parts = make([]string, 0, len(results)+2)
		ts    time.Time
	)
	for i, dv := range results {
		if dv == nil || dv.Status != ua.StatusOK {
			status := ua.StatusBad
			if dv != nil {
				status = dv.Status
			}
			return "", fmt.Errorf("%w: node %s: %s", ports.ErrNoSample, s.cfg.Nodes[i], status)
		}
		v, ok := variantToFloat(dv.Value)
		if !ok {
			return "", fmt.Errorf("%w: node %s: unsupported type %T", ports.ErrNoSample, s.cfg.Nodes[i], dv.Value)
		}
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
		if ts.IsZero() {
			ts = dv.SourceTimestamp
			if ts.IsZero() {
				ts = dv.ServerTimestamp
			}
		}
	}
	if ts.IsZero() {
		ts = s.now()
	}
	parts = append(parts, ts.Format("20060102"), ts.Format("150405"))
	return strings.Join(parts, ","), nil
}

// Close ends the OPC UA session if one is open.
func (s *OPCUASampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.client.Close(ctx)
	s.client = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *OPCUASampler) connect(ctx context.Context) (*opcua.Client, error) {
	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	return client, nil
}

func (s *OPCUASampler) dropLocked() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.client.Close(ctx)
	s.client = nil
}

func (s *OPCUASampler) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Sampler = (*OPCUASampler)(nil)
