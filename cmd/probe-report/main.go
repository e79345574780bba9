// probe-report sends one signed telemetry report to a probehub collector.
// The report is read from --file, or from stdin when --file is "-".
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"probehub/pkg/client"
	"probehub/pkg/log"
)

func main() {
	if err := run(os.Args[1:], os.Stdin); err != nil {
		var respErr *client.ResponseError
		if errors.As(err, &respErr) {
			log.Error().Int("status", respErr.StatusCode).Str("code", respErr.Code).Msg("Report rejected")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Report failed")
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader) error {
	flagSet := pflag.NewFlagSet("probe-report", pflag.ContinueOnError)
	url := flagSet.String("url", os.Getenv("PROBE_URL"), "collector ingestion URL, e.g. https://collector/v1/ingest")
	secret := flagSet.String("secret", "", "shared HMAC secret (default $PROBE_HMAC_SECRET)")
	file := flagSet.StringP("file", "f", "-", "JSON report to send, - for stdin")
	timeout := flagSet.Duration("timeout", 30*time.Second, "overall deadline including retries")
	retries := flagSet.Int("retries", 3, "retries on transport and gateway errors")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *secret == "" {
		*secret = os.Getenv("PROBE_HMAC_SECRET")
	}
	if *url == "" || *secret == "" {
		return errors.New("--url and --secret are required")
	}

	body, err := readReport(*file, stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	retryMax := *retries
	if retryMax == 0 {
		retryMax = -1
	}
	reporter := client.NewReporter(*url, *secret, client.Options{RetryMax: retryMax})
	if err := reporter.SendRaw(ctx, body); err != nil {
		return err
	}

	log.Info().Str("url", *url).Int("bytes", len(body)).Msg("Report accepted")
	return nil
}

func readReport(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read report from stdin: %w", err)
		}
		return body, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return body, nil
}
