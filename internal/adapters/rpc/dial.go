package rpc

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Config holds the broker address and credentials.
type Config struct {
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Vhost       string        `yaml:"vhost"`
	Queue       string        `yaml:"queue"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.Vhost == "" {
		c.Vhost = "/"
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Queue == "" {
		return errors.New("queue is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CallTimeout < 0 {
		return errors.New("call_timeout must not be negative")
	}
	return nil
}

// URL renders the amqp:// URL for the config.
func (c *Config) URL() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.Vhost,
	}.String()
}

// DialChannel opens a connection and one channel on it. Refused
// credentials are marked ports.Fatal.
func DialChannel(cfg Config) (*amqp.Connection, *amqp.Channel, error) {
	cfg.ApplyDefaults()
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: cfg.Heartbeat,
		Dial:      amqp.DefaultDial(cfg.DialTimeout),
		Properties: amqp.Table{
			"connection_name": "station-relay",
		},
	})
	if err != nil {
		opErr := ports.NewOpError("bus_connect", ports.ErrBusConnection, err)
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
			return nil, nil, ports.Fatal(opErr)
		}
		return nil, nil, opErr
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, ports.NewOpError("bus_channel", ports.ErrBusConnection, err)
	}
	return conn, ch, nil
}

// Dial connects to the broker and returns a Bridge with its private reply
// queue ready.
func Dial(cfg Config, opts ...Option) (*Bridge, error) {
	cfg.ApplyDefaults()
	conn, ch, err := DialChannel(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithCallTimeout(cfg.CallTimeout), withConnection(conn)}, opts...)
	b, err := NewBridge(ch, opts...)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}
