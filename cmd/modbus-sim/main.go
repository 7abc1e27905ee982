// Command modbus-sim runs a Modbus TCP slave on 127.0.0.1:5020, unit 1,
// whose holding registers 0-10 emulate a live sensor feed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/things-go/modbus-sim/internal/sim"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	s, err := sim.New(sim.WithLogger(log))
	if err != nil {
		log.Fatalf("simulator setup failed, %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = s.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
