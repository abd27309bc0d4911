// Command sentryd runs the operations-intelligence engine: it opens the
// telemetry store, wires the analysis pipeline, and serves the
// query/command surface until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kairoslab/sentryd/internal/config"
	"github.com/kairoslab/sentryd/internal/engine"
	"github.com/kairoslab/sentryd/internal/logging"
	"github.com/kairoslab/sentryd/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	help := flag.Bool("help", false, "print configuration help and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *help {
		config.WriteHelp(os.Stdout, version)
		return 0
	}
	if *showVersion {
		fmt.Println(version)
		return 0
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("storage initialization failed", "error", err)
		return 2
	}

	logger.Info("sentryd starting",
		"version", version,
		"db_path", cfg.DBPath,
		"port", cfg.Port,
		"service_name", cfg.ServiceName,
	)

	e := engine.New(cfg, logger, version, st)

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := e.Run(runCtx); err != nil {
		logger.Error("sentryd exited with error", "error", err)
		return 1
	}
	return 0
}
