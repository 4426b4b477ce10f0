// Command local-forwarder-server runs the public side of the tunnel: the
// fixed control listener and whatever port workers the connected client's
// most recent publish advertised.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/localforwarder/local-forwarder/codestore"
	"github.com/localforwarder/local-forwarder/config"
	"github.com/localforwarder/local-forwarder/internal/logging"
	"github.com/localforwarder/local-forwarder/server"
)

// Exit codes per the startup-failure policy: 0 is a clean shutdown, 2 is a
// config problem, 3 is a control-port bind failure.
const (
	exitOK          = 0
	exitConfigError = 2
	exitBindError   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultServerConfigPath, "path to server config JSON")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-forwarder-server: loading config: %v\n", err)
		return exitConfigError
	}

	code, fromConfig, err := cfg.Code()
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-forwarder-server: decoding code from config: %v\n", err)
		return exitConfigError
	}
	if !fromConfig {
		code, err = codestore.LoadOrGenerate(cfg.CodePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "local-forwarder-server: loading code: %v\n", err)
			return exitConfigError
		}
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(code, server.WithLogger(log))
	controlAddr := net.JoinHostPort("", strconv.Itoa(cfg.ControlPort))

	log.WithField("addr", controlAddr).Info("starting control listener")
	if err := srv.ListenAndServe(ctx, controlAddr); err != nil {
		log.WithError(err).Error("control listener failed to bind")
		return exitBindError
	}

	log.Info("shutdown complete")
	return exitOK
}
