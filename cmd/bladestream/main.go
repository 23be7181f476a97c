// Command bladestream streams samples through the sync interface of a
// simulated or attached bladeRF.
//
// Usage:
//
//	bladestream [flags] rx|tx|loopback
//
// rx writes received samples to -o (or discards them), tx transmits -i (or
// a ramp), and loopback runs both directions at once. Streams run for -n
// samples or until interrupted. Settings not given as flags come from the
// -config YAML document or its defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Nuand/bladeRF-sub005/pkg"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		pkg.LogError(pkg.ComponentCLI, "bladestream failed", "error", err)
		fmt.Fprintln(os.Stderr, "bladestream:", err)
		os.Exit(1)
	}
}
