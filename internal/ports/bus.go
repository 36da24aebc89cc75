package ports

import "context"

// Caller publishes a payload and blocks until the correlated reply arrives.
type Caller interface {
	Call(ctx context.Context, payload, destination string) (string, error)
	// Alive is false once the underlying transport is gone.
	Alive() bool
	Close() error
}

// BusDialer opens a new bus session.
type BusDialer func(ctx context.Context) (Caller, error)
