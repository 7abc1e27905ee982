// Package sim wires the register store, the Modbus TCP server and the value
// updater into the simulated slave device.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/things-go/modbus-sim/internal/register"
	"github.com/things-go/modbus-sim/internal/server"
	"github.com/things-go/modbus-sim/internal/updater"
)

// fixed device parameters
const (
	Host           = "127.0.0.1"
	Port           = 5020
	UnitID         = 1
	RegisterCount  = updater.Quantity
	UpdateInterval = updater.DefaultInterval
)

// Seed register values at startup.
func Seed() []uint16 {
	return []uint16{100, 200, 300, 400, 500, 0, 0, 0, 0, 0, 250}
}

// Option custom option, the binary uses none of them.
type Option func(*Simulator)

// WithAddress listen on addr instead of Host:Port.
func WithAddress(addr string) Option {
	return func(s *Simulator) {
		s.addr = addr
	}
}

// WithInterval set the update interval.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		s.interval = d
	}
}

// WithRand set the updater random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) {
		s.rnd = r
	}
}

// WithLogger set logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOutput set where the banner goes.
func WithOutput(w io.Writer) Option {
	return func(s *Simulator) {
		if w != nil {
			s.out = w
		}
	}
}

// Simulator a single Modbus TCP slave with a live holding register bank.
type Simulator struct {
	addr     string
	interval time.Duration
	rnd      *rand.Rand
	log      *logrus.Logger
	out      io.Writer

	store   *register.Store
	server  *server.TCPServer
	updater *updater.Updater
}

// New build a simulator with the seed loaded.
func New(opts ...Option) (*Simulator, error) {
	s := &Simulator{
		addr:     net.JoinHostPort(Host, strconv.Itoa(Port)),
		interval: UpdateInterval,
		log:      logrus.StandardLogger(),
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = register.New(RegisterCount)
	if err := s.store.Initialize(Seed()); err != nil {
		return nil, err
	}
	s.server = server.NewTCPServer(server.WithLogProvider(s.log.WithField("component", "modbusTCPServer")))
	s.server.AddNode(UnitID, s.store)
	s.updater = updater.New(s.store,
		updater.WithInterval(s.interval),
		updater.WithRand(s.rnd),
		updater.WithLogger(s.log))
	return s, nil
}

// Store the register bank served as unit UnitID.
func (sf *Simulator) Store() *register.Store {
	return sf.store
}

// Addr the bound address, nil until Run has bound the listener.
func (sf *Simulator) Addr() net.Addr {
	return sf.server.Addr()
}

// Run bind, print the banner, start updating and serve until ctx is done.
// A bind failure is returned at once.
func (sf *Simulator) Run(ctx context.Context) error {
	if err := sf.server.Listen(sf.addr); err != nil {
		return fmt.Errorf("sim: listen on %s, %w", sf.addr, err)
	}
	sf.printBanner()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sf.updater.Start(ctx)

	errc := make(chan error, 1)
	go func() { errc <- sf.server.Serve() }()

	select {
	case <-ctx.Done():
		sf.server.Close()
		<-errc
		sf.log.Info("simulator stopped")
		return nil
	case err := <-errc:
		sf.server.Close()
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (sf *Simulator) printBanner() {
	host, port, err := net.SplitHostPort(sf.Addr().String())
	if err != nil {
		host, port = Host, strconv.Itoa(Port)
	}
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(sf.out, "%s\n  MODBUS TCP SIMULATOR\n  Host: %s  Port: %s  Unit: %d\n  Press Ctrl+C to stop\n%s\n",
		rule, host, port, UnitID, rule)
}
