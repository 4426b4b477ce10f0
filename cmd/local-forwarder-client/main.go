// Command local-forwarder-client runs the connector half of the tunnel: it
// publishes a local port map to a local-forwarder-server and relays every
// dial-back it receives to a local target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/localforwarder/local-forwarder/client"
	"github.com/localforwarder/local-forwarder/config"
	"github.com/localforwarder/local-forwarder/internal/logging"
)

const (
	exitOK          = 0
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to client config JSON")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-forwarder-client: loading config: %v\n", err)
		return exitConfigError
	}
	if cfg.Connector == "" {
		fmt.Fprintln(os.Stderr, "local-forwarder-client: no connector configured (LF_CONNECTOR or config file)")
		return exitConfigError
	}

	code, err := cfg.Code()
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-forwarder-client: decoding code: %v\n", err)
		return exitConfigError
	}

	portMap, err := cfg.PortMap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-forwarder-client: invalid port map: %v\n", err)
		return exitConfigError
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg.Connector, code, portMap, client.WithLogger(log))
	log.WithField("connector", cfg.Connector).Info("starting control loop")
	_ = c.Run(ctx)

	log.Info("shutdown complete")
	return exitOK
}
