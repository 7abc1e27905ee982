// Package updater periodically rewrites the simulated sensor registers.
package updater

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thinkgos/timing/v4"
)

// register layout written every cycle starting at address 0
const (
	GenericCount    = 5    // registers 0..4
	GenericMax      = 1000 // inclusive
	ReservedCount   = 5    // registers 5..9, always 0
	TemperatureMin  = 200
	TemperatureMax  = 300 // inclusive
	TemperatureAddr = GenericCount + ReservedCount

	// Quantity number of registers in one update vector.
	Quantity = TemperatureAddr + 1
)

// DefaultInterval time between two updates.
const DefaultInterval = 2 * time.Second

// Writer the store an Updater writes to.
type Writer interface {
	Write(address uint16, values []uint16) error
}

// Option custom option
type Option func(*Updater)

// WithInterval set the update interval, ignored when not positive.
func WithInterval(d time.Duration) Option {
	return func(u *Updater) {
		if d > 0 {
			u.interval = d
		}
	}
}

// WithRand set the random source.
func WithRand(r *rand.Rand) Option {
	return func(u *Updater) {
		if r != nil {
			u.rnd = r
		}
	}
}

// WithLogger set logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(u *Updater) {
		if l != nil {
			u.log = l
		}
	}
}

// Updater emulates a live sensor feed on a holding register bank.
type Updater struct {
	store    Writer
	interval time.Duration
	log      logrus.FieldLogger

	mu  sync.Mutex // guards rnd, *rand.Rand is not safe for concurrent use
	rnd *rand.Rand
}

// New create an updater writing to store.
func New(store Writer, opts ...Option) *Updater {
	u := &Updater{
		store:    store,
		interval: DefaultInterval,
		log:      logrus.StandardLogger(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Interval time between two updates.
func (sf *Updater) Interval() time.Duration {
	return sf.interval
}

// Next produce a new register vector:
// [0,4] uniform in [0,1000], [5,9] zero, [10] uniform in [200,300].
func (sf *Updater) Next() []uint16 {
	values := make([]uint16, Quantity)

	sf.mu.Lock()
	for i := 0; i < GenericCount; i++ {
		values[i] = uint16(sf.rnd.Intn(GenericMax + 1))
	}
	values[TemperatureAddr] = uint16(TemperatureMin + sf.rnd.Intn(TemperatureMax-TemperatureMin+1))
	sf.mu.Unlock()
	return values
}

// Step run one update cycle, write a fresh vector at address 0 and log it.
func (sf *Updater) Step() ([]uint16, error) {
	values := sf.Next()
	if err := sf.store.Write(0, values); err != nil {
		return nil, err
	}
	sf.log.Infof("[SIM] Reg0=%d, Reg1=%d, Reg2=%d, Temp=%d",
		values[0], values[1], values[2], values[TemperatureAddr])
	return values, nil
}

// Start schedule Step every interval until ctx is done, the first update
// happens one interval after Start.
func (sf *Updater) Start(ctx context.Context) {
	tm := timing.NewTimer(sf.interval)
	tm.WithJobFunc(func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := sf.Step(); err != nil {
			sf.log.Errorf("update registers failed, %v", err)
		}
		timing.Add(tm, sf.interval)
	})
	timing.Add(tm)
}
