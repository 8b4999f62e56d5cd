package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext derives a context that ends on SIGINT/SIGTERM. The first
// signal prints a notice and cancels; a second one force-exits without
// waiting for the dashboard to unwind.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			signal.Stop(sigChan)
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nshutting down...")
			cancel()
			<-sigChan
			os.Exit(1)
		}
	}()

	return ctx, cancel
}
