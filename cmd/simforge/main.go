// simforge runs a deterministic demo simulation. With an input log it
// replays recorded inputs and prints per-tick state hashes; -verify replays
// the log twice and fails on any hash divergence. Without a log it steps in
// real time at the configured tick rate and serves the observer feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simforge/simforge/internal/injector"
	"github.com/simforge/simforge/internal/observability/log"
	"github.com/simforge/simforge/internal/server"
	"github.com/simforge/simforge/internal/sim"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file (defaults apply when empty)")
		logPath    = flag.String("log", "", "JSONL input log to replay")
		verify     = flag.Bool("verify", false, "replay the log twice and compare hashes")
		listen     = flag.String("listen", ":8090", "observer feed address (real-time mode)")
	)
	flag.Parse()

	cfg := sim.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = sim.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if len(cfg.SystemExecutionOrder) == 0 {
		cfg.SystemExecutionOrder = []string{"steer", "motion"}
	}

	if *logPath != "" {
		if err := replayMode(cfg, *logPath, *verify); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := serveMode(cfg, *listen); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replayMode(cfg sim.Config, path string, verify bool) error {
	entries, err := readLog(path)
	if err != nil {
		return err
	}
	hashes, err := runLog(cfg, entries)
	if err != nil {
		return err
	}
	for i, h := range hashes {
		fmt.Printf("tick %d: %016x\n", i+1, h)
	}
	if !verify {
		return nil
	}
	again, err := runLog(cfg, entries)
	if err != nil {
		return err
	}
	for i := range hashes {
		if hashes[i] != again[i] {
			return fmt.Errorf("determinism check failed at tick %d: %016x != %016x",
				i+1, hashes[i], again[i])
		}
	}
	fmt.Println("determinism check passed")
	return nil
}

func serveMode(cfg sim.Config, listen string) error {
	s, err := injector.NewSimulation(cfg)
	if err != nil {
		return err
	}
	if err := buildDemo(s); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	logger := log.New(cfg.LogLevel)
	mon := server.NewMonitor(s, logger)
	if err := mon.Start(listen); err != nil {
		return err
	}
	s.OnTick(mon.PublishHash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopCh
		cancel()
	}()

	err = s.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if stopErr := mon.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("monitor shutdown", log.Err(stopErr))
	}
	if closeErr := s.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
