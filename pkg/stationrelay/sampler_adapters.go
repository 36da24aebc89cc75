package stationrelay

import (
	"context"
	"fmt"
	"sync"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// ErrChannelSamplerClosed is returned once the feed of a channel sampler is closed.
var ErrChannelSamplerClosed = fmt.Errorf("stationrelay: channel sampler closed: %w", ports.ErrNoSample)

// SampleFunc produces one reading per call, e.g. "100041,20170802,153000".
type SampleFunc func(ctx context.Context) (string, error)

// NewCallbackSampler adapts a SampleFunc into a full Sampler so callers can
// plug arbitrary functions without defining structs.
func NewCallbackSampler(name string, fn SampleFunc) Sampler {
	if name == "" {
		name = "callback"
	}
	return &callbackSampler{name: name, fn: fn}
}

// NewChannelSampler takes readings from a channel; it returns the sampler,
// the send side, and a close function that the caller should invoke during
// shutdown. A cycle that finds the channel empty skips its data payload.
func NewChannelSampler(name string, buffer int) (Sampler, chan<- string, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan string, buffer)
	s := &channelSampler{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSampler struct {
	name string
	fn   SampleFunc
}

func (s *callbackSampler) Sample(ctx context.Context) (string, error) {
	if s.fn == nil {
		return "", fmt.Errorf("callback sampler %q: nil handler", s.name)
	}
	return s.fn(ctx)
}

func (s *callbackSampler) Name() string { return s.name }

type channelSampler struct {
	name   string
	ch     chan string
	closed chan struct{}
	once   sync.Once
}

func (s *channelSampler) Sample(ctx context.Context) (string, error) {
	select {
	case <-s.closed:
		return "", ErrChannelSamplerClosed
	default:
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case reading, ok := <-s.ch:
		if !ok {
			return "", ErrChannelSamplerClosed
		}
		return reading, nil
	default:
		return "", fmt.Errorf("channel sampler %q: %w", s.name, ports.ErrNoSample)
	}
}

func (s *channelSampler) Name() string { return s.name }

// close marks the sampler closed. The feed channel is left to the garbage
// collector so a producer racing shutdown never panics on send.
func (s *channelSampler) close() {
	s.once.Do(func() {
		close(s.closed)
	})
}
