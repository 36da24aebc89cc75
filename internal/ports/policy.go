package ports

import "time"

type Policy struct {
	MinInterval time.Duration
	MaxInterval time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ReconnectEachCycle drops store and bus sessions after every cycle.
	ReconnectEachCycle bool
}
