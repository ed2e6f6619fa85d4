// Command markerwatch tails the aggregator's live marker stream and prints
// each snapshot and change as it arrives.
//
// Usage:
//
//	go run ./cmd/markerwatch --addr http://localhost:8080 --kind Sensor
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr    string
		kinds   []string
		noColor bool
		quiet   bool
	)
	flagSet := pflag.NewFlagSet("markerwatch", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "http://localhost:8080", "aggregator base URL")
	flagSet.StringSliceVar(&kinds, "kind", nil, "only show these marker kinds (repeatable)")
	flagSet.BoolVar(&noColor, "no-color", false, "disable colored output")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "print snapshot counts instead of every marker")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/v1/markers/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %s", resp.Status)
	}

	p := newPrinter(os.Stdout, kinds, quiet)
	err = readEvents(resp.Body, p.handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
