package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// MQTTConfig describes the topic a station logger publishes its readings on.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Stamp appends the arrival date and time (YYYYMMDD,HHMMSS) to payloads
	// that carry only values.
	Stamp bool `yaml:"stamp"`
}

func (c *MQTTConfig) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "station-relay"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Broker != "" && !strings.Contains(c.Broker, "://") {
		c.Broker = "tcp://" + c.Broker
	}
}

func (c *MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos %d out of range", c.QoS)
	}
	return nil
}

// MQTTSampler keeps the newest message published on the configured topic.
// Each Sample hands that message out once; a cycle with nothing new since
// the previous one gets ErrNoSample.
type MQTTSampler struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
	now       func() time.Time

	connMu sync.Mutex
	client mqtt.Client

	mu     sync.Mutex
	latest string
	fresh  bool
}

func NewMQTTSampler(cfg MQTTConfig) (*MQTTSampler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MQTTSampler{cfg: cfg, newClient: mqtt.NewClient, now: time.Now}, nil
}

func (s *MQTTSampler) Sample(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ensureConnected(); err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrNoSample, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return "", fmt.Errorf("%w: nothing new on %s", ports.ErrNoSample, s.cfg.Topic)
	}
	s.fresh = false
	return s.latest, nil
}

func (s *MQTTSampler) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

func (s *MQTTSampler) ensureConnected() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.client != nil {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(30 * time.Second)
	// Subscribing here covers the first connect and every automatic reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	})

	client := s.newClient(opts)
	token := client.Connect()
	// A client left behind here would keep retrying and subscribe once it
	// finally connects.
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Broker, err)
	}
	s.client = client
	return nil
}

func (s *MQTTSampler) onMessage(_ mqtt.Client, m mqtt.Message) {
	reading := strings.TrimSpace(string(m.Payload()))
	if reading == "" {
		return
	}
	if s.cfg.Stamp {
		now := s.now()
		reading += "," + now.Format("20060102") + "," + now.Format("150405")
	}
	s.mu.Lock()
	s.latest = reading
	s.fresh = true
	s.mu.Unlock()
}

var _ ports.Sampler = (*MQTTSampler)(nil)
