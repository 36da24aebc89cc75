package relay

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff doubles from initial up to ceiling on every failure. Each delay is
// drawn from [d/2, d] so stations restarted together do not retry in step.
type backoff struct {
	initial time.Duration
	ceiling time.Duration
	attempt int
	rnd     *rand.Rand
}

func newBackoff(initial, ceiling time.Duration, rnd *rand.Rand) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if ceiling < initial {
		ceiling = initial
	}
	return &backoff{initial: initial, ceiling: ceiling, rnd: rnd}
}

func (b *backoff) Next() time.Duration {
	d := b.initial
	for i := 0; i < b.attempt && d < b.ceiling; i++ {
		d *= 2
	}
	if d > b.ceiling {
		d = b.ceiling
	}
	b.attempt++
	half := d / 2
	return half + time.Duration(b.rnd.Int64N(int64(d-half)+1))
}

func (b *backoff) Reset() { b.attempt = 0 }

// interval picks the pause between cycles uniformly from [lo, hi].
func interval(lo, hi time.Duration, rnd *rand.Rand) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rnd.Int64N(int64(hi-lo)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
