// probe-load drives a running probehub collector end to end: it sends signed
// reports for a fleet of synthetic nodes concurrently, then checks that the
// node list and metrics history reflect them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"probehub/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Error().Err(err).Msg("Load run failed")
		os.Exit(1)
	}
}

func parseConfig(args []string) (config, error) {
	cfg := config{}
	flagSet := pflag.NewFlagSet("probe-load", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "collector base URL")
	flagSet.StringVar(&cfg.secret, "secret", "", "shared HMAC secret (default $PROBE_HMAC_SECRET)")
	flagSet.IntVar(&cfg.nodes, "nodes", 10, "number of synthetic nodes")
	flagSet.IntVar(&cfg.reports, "reports", 5, "reports sent per node")
	flagSet.IntVar(&cfg.concurrency, "concurrency", 8, "maximum requests in flight")
	flagSet.StringVar(&cfg.prefix, "prefix", "load", "node id prefix")
	flagSet.DurationVar(&cfg.httpTimeout, "timeout", 30*time.Second, "per-request timeout")
	flagSet.BoolVar(&cfg.showSummary, "summary", true, "print the metrics summary")

	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.secret == "" {
		cfg.secret = os.Getenv("PROBE_HMAC_SECRET")
	}

	switch {
	case cfg.secret == "":
		return cfg, errors.New("--secret is required")
	case cfg.nodes < 1 || cfg.reports < 1 || cfg.concurrency < 1:
		return cfg, errors.New("--nodes, --reports and --concurrency must be positive")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	t := newTester(cfg, out)
	log.Info().
		Str("url", t.cfg.baseURL).
		Int("nodes", cfg.nodes).
		Int("reports", cfg.reports).
		Int("concurrency", cfg.concurrency).
		Msg("Starting load run")

	err = t.run(ctx)
	if cfg.showSummary {
		t.metrics.printSummary(out)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nAll steps passed: %d reports accepted\n", t.metrics.count(opIngest))
	return nil
}
