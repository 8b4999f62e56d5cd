package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/haikalr/loopwatch/internal/config"
	"github.com/haikalr/loopwatch/internal/engine"
	"github.com/haikalr/loopwatch/internal/prefs"
	"github.com/haikalr/loopwatch/internal/rendercache"
	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/stream"
	"github.com/haikalr/loopwatch/internal/timeline"
	"github.com/haikalr/loopwatch/internal/tui"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	Long:  `Connect to the engine's event stream and render the live run dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// runWatch wires the full dashboard: canonical store, resumable event
// stream, timeline renderer and the interactive command line.
func runWatch(cmd *cobra.Command) error {
	ctx, cancel := shutdownContext(cmd.Context())
	defer cancel()

	store := state.NewStore(cfg.Output.RingCapacity)

	cache, err := rendercache.New(cfg.Cache.Capacity, slog.Default())
	if err != nil {
		return err
	}

	prefStore, err := prefs.NewStore(cfg.Prefs.Path)
	if err != nil {
		return err
	}

	requestTimeout, err := config.DurationOrDefault(cfg.Engine.RequestTimeout, config.DefaultEngineTimeout)
	if err != nil {
		return err
	}
	engineClient := engine.New(cfg.Engine.BaseURL, engine.Options{Timeout: requestTimeout})

	backoffBase, err := config.DurationOrDefault(cfg.Stream.BackoffBase, config.DefaultStreamBackoffBase)
	if err != nil {
		return err
	}
	backoffCap, err := config.DurationOrDefault(cfg.Stream.BackoffCap, config.DefaultStreamBackoffCap)
	if err != nil {
		return err
	}
	heartbeatGrace, err := config.DurationOrDefault(cfg.Stream.HeartbeatGrace, config.DefaultHeartbeatGrace)
	if err != nil {
		return err
	}

	streamClient := stream.New(store, cfg.Engine.BaseURL, stream.Options{
		BackoffBase: backoffBase,
		BackoffCap:  backoffCap,
	})

	pane := tui.NewTimelinePane(store, cache, prefStore.Get().PanelWidth, paneHeight())
	renderer := timeline.NewRenderer(store, pane, cfg.Timeline.VirtualizeThreshold)
	commander := tui.NewCommander(store, engineClient, renderer, prefStore, slog.Default())
	dashboard := tui.NewDashboard(store, streamClient, pane, renderer, commander,
		os.Stdout, heartbeatGrace, slog.Default())

	token := store.Subscribe("*", dashboard.Notify)
	defer store.Unsubscribe(token)

	go func() {
		if err := streamClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event stream terminated", "error", err)
		}
	}()

	input := make(chan string)
	go readInput(ctx, input)

	err = dashboard.Run(ctx, input)
	switch {
	case errors.Is(err, tui.ErrQuit), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// readInput forwards stdin lines to the dashboard until ctx ends or stdin
// closes.
func readInput(ctx context.Context, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func paneHeight() int {
	// Terminal size probing is not worth a dependency here; the pane scrolls
	// within a fixed window.
	return 24
}
