// aggie polls a fleet of radio-client daemons over a line-oriented TCP
// protocol, merges their reported nodes into one fleet-wide view keyed by
// node id, and publishes a JSON snapshot to a presentation manager over a
// WebSocket. An operator-facing TCP control server exposes status and
// control commands.
//
// Usage:
//
//	aggie [options] ws://host:port/path
//
// See `aggie --help` for the full flag surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/hervehildenbrand/aggie/internal/aggie"
	"github.com/hervehildenbrand/aggie/internal/config"
	"github.com/hervehildenbrand/aggie/internal/controlserver"
	"github.com/hervehildenbrand/aggie/internal/dispatch"
	"github.com/hervehildenbrand/aggie/internal/logging"
	"github.com/hervehildenbrand/aggie/internal/monoclock"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelpShown(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "aggie: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Printf("aggie %s\n", config.Version)
		return 0
	}

	log := logging.New(cfg.Verbosity)
	log.Info().Str("pm_url", cfg.PMURL.String()).Str("clients_file", cfg.ClientsFile).
		Int("listen_port", cfg.ListenPort).Int("poll_interval_s", cfg.PollInterval).
		Msg("aggie starting")

	clock := monoclock.New()

	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 24 * 365 * time.Hour // "0 disables periodic polling", spec.md §6
	}

	agg := aggie.New(clock, cfg.ClientsFile, pollInterval, cfg.PMURL, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := dispatch.New(ctx, agg)
	ctl := controlserver.New(cfg.ListenPort, dispatcher, log)

	errCh := make(chan error, 2)
	go func() {
		if err := agg.Run(ctx); err != nil {
			errCh <- fmt.Errorf("aggregator: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		if err := ctl.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("control server: %w", err)
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	pending := 2
	select {
	case <-sigCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		pending--
		if err != nil {
			log.Error().Err(err).Msg("a core worker exited unexpectedly")
			exitCode = 1
		}
	}
	cancel()

	// A second shutdown request within ~1s forces immediate process exit,
	// spec.md §5.
	go func() {
		select {
		case <-sigCh:
			log.Warn().Msg("second shutdown signal received, forcing exit")
			os.Exit(1)
		case <-time.After(time.Second):
		}
	}()

	for ; pending > 0; pending-- {
		<-errCh
	}
	log.Info().Msg("aggie stopped")
	return exitCode
}
