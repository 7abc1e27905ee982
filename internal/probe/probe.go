// Package probe polls a Modbus TCP slave on a fixed scan rate and decodes
// tag values, the way a downstream collector reads the simulator.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thinkgos/timing/v4"

	"github.com/things-go/modbus-sim/internal/protocol"
)

// DefaultScanRate poll period.
const DefaultScanRate = time.Second

// Reader reads holding registers of a unit.
type Reader interface {
	ReadHoldingRegisters(slaveID byte, address, quantity uint16) ([]uint16, error)
}

// Result the outcome of reading one tag.
type Result struct {
	Tag    Tag
	Value  float64
	Err    error
	TxCnt  uint64 // reads of this tag
	ErrCnt uint64 // failed reads of this tag
}

// Handler receives every tag result.
type Handler interface {
	ProcResult(result Result)
}

// HandlerFunc adapter to use a function as Handler.
type HandlerFunc func(Result)

// ProcResult implement interface Handler
func (f HandlerFunc) ProcResult(r Result) { f(r) }

// NopProc implement interface Handler
type NopProc struct{}

// ProcResult implement interface Handler
func (NopProc) ProcResult(Result) {}

// Option custom option
type Option func(*Probe)

// WithScanRate set poll period, ignored when not positive.
func WithScanRate(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.scanRate = d
		}
	}
}

// WithHandler set the result handler.
func WithHandler(h Handler) Option {
	return func(p *Probe) {
		if h != nil {
			p.handler = h
		}
	}
}

type tagState struct {
	Tag
	txCnt  uint64
	errCnt uint64
}

// Probe polls tags of one unit.
type Probe struct {
	reader   Reader
	slaveID  byte
	scanRate time.Duration
	handler  Handler

	mu   sync.Mutex
	tags []*tagState
}

// New create a probe reading unit slaveID through reader.
func New(reader Reader, slaveID byte, opts ...Option) *Probe {
	p := &Probe{
		reader:   reader,
		slaveID:  slaveID,
		scanRate: DefaultScanRate,
		handler:  NopProc{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddTag add a tag to every poll.
func (sf *Probe) AddTag(tag Tag) error {
	if tag.ID == "" {
		return errors.New("probe: tag id is empty")
	}
	if _, ok := dataTypeNames[tag.DataType]; !ok {
		return fmt.Errorf("probe: tag '%s' has unsupported data type %v", tag.ID, tag.DataType)
	}
	if int(tag.Address)+int(tag.DataType.RegisterCount()) > 0x10000 {
		return fmt.Errorf("probe: tag '%s' runs past the last register", tag.ID)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	for _, v := range sf.tags {
		if v.ID == tag.ID {
			return fmt.Errorf("probe: tag '%s' already added", tag.ID)
		}
	}
	sf.tags = append(sf.tags, &tagState{Tag: tag})
	return nil
}

// Poll read every tag once and report the results in tag order.
func (sf *Probe) Poll() []Result {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	results := make([]Result, 0, len(sf.tags))
	for _, st := range sf.tags {
		st.txCnt++
		value, err := sf.readTag(st.Tag)
		if err != nil {
			st.errCnt++
		}
		r := Result{st.Tag, value, err, st.txCnt, st.errCnt}
		sf.handler.ProcResult(r)
		results = append(results, r)
	}
	return results
}

func (sf *Probe) readTag(tag Tag) (float64, error) {
	regs, err := sf.reader.ReadHoldingRegisters(sf.slaveID, tag.Address, tag.DataType.RegisterCount())
	if err != nil {
		return 0, err
	}
	return Decode(tag, regs)
}

// Start poll every scan rate until ctx is done, the first poll happens one
// scan rate after Start. Reads run on the probe's own goroutine, the timer
// job only marks the probe ready.
func (sf *Probe) Start(ctx context.Context) error {
	if sf.slaveID < protocol.AddressMin || sf.slaveID > protocol.AddressMax {
		return fmt.Errorf("modbus: slaveID '%v' must be between '%v' and '%v'",
			sf.slaveID, protocol.AddressMin, protocol.AddressMax)
	}
	ready := make(chan struct{}, 1)
	tm := timing.NewTimer(sf.scanRate)
	tm.WithJobFunc(func() {
		select {
		case <-ctx.Done():
		case ready <- struct{}{}:
		default:
		}
	})
	go sf.readPoll(ctx, tm, ready)
	timing.Add(tm)
	return nil
}

// readPoll poll each time the timer marks ready, then reschedule.
func (sf *Probe) readPoll(ctx context.Context, tm *timing.Timer, ready <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			if ctx.Err() != nil {
				return
			}
			sf.Poll()
			timing.Add(tm, sf.scanRate)
		}
	}
}
