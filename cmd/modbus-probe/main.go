// Command modbus-probe polls the simulator once a second and logs the
// decoded register map, a quick check that the fixture is alive.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/things-go/modbus-sim/internal/client"
	"github.com/things-go/modbus-sim/internal/probe"
	"github.com/things-go/modbus-sim/internal/sim"
)

// reconnectingReader dials again after a failed read.
type reconnectingReader struct {
	*client.TCPClient
}

func (r reconnectingReader) ReadHoldingRegisters(slaveID byte, address, quantity uint16) ([]uint16, error) {
	if !r.IsConnected() {
		if err := r.Connect(); err != nil {
			return nil, err
		}
	}
	return r.TCPClient.ReadHoldingRegisters(slaveID, address, quantity)
}

type handler struct {
	log *logrus.Logger
}

func (h handler) ProcResult(r probe.Result) {
	entry := h.log.WithFields(logrus.Fields{"tag": r.Tag.ID, "tx": r.TxCnt, "err": r.ErrCnt})
	if r.Err != nil {
		entry.Warnf("read failed, %v", r.Err)
		return
	}
	entry.Infof("%g", r.Value)
}

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	addr := net.JoinHostPort(sim.Host, strconv.Itoa(sim.Port))
	c := client.NewTCPClient(addr)
	defer c.Close()

	p := probe.New(reconnectingReader{c}, sim.UnitID, probe.WithHandler(handler{log}))
	for _, tag := range probe.DefaultTags() {
		if err := p.AddTag(tag); err != nil {
			log.Fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("polling %s unit %d every %v", addr, sim.UnitID, probe.DefaultScanRate)
	if err := p.Start(ctx); err != nil {
		log.Fatal(err)
	}
	<-ctx.Done()
}
