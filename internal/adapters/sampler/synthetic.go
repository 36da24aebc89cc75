package sampler

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Synthetic manufactures demo readings of the form 1000<d>,<YYYYMMDD>,<HHMMSS>
// with d drawn from 1..9.
type Synthetic struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewSynthetic(seed uint64) *Synthetic {
	return &Synthetic{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

func (s *Synthetic) Sample(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	d := s.rnd.IntN(9) + 1
	s.mu.Unlock()

	now := s.now()
	return "1000" + strconv.Itoa(d) + "," + now.Format("20060102") + "," + now.Format("150405"), nil
}

// Func adapts a plain function into a ports.Sampler.
type Func func(ctx context.Context) (string, error)

func (f Func) Sample(ctx context.Context) (string, error) { return f(ctx) }

var (
	_ ports.Sampler = (*Synthetic)(nil)
	_ ports.Sampler = Func(nil)
)
