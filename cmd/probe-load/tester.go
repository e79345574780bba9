package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"probehub/pkg/client"
	"probehub/pkg/models"
)

const (
	opIngest  = "ingest"
	opList    = "list"
	opMetrics = "metrics"
)

var errVerification = errors.New("verification failed")

type config struct {
	baseURL     string
	secret      string
	nodes       int
	reports     int
	concurrency int
	prefix      string
	httpTimeout time.Duration
	showSummary bool
}

type tester struct {
	cfg      config
	reporter *client.Reporter
	http     *retryablehttp.Client
	metrics  *metricsCollector
	out      io.Writer
}

func newTester(cfg config, out io.Writer) *tester {
	base := strings.TrimRight(cfg.baseURL, "/")
	cfg.baseURL = base

	httpClient := client.CreateRetryableClient(0, time.Second, time.Second)
	httpClient.HTTPClient.Timeout = cfg.httpTimeout

	return &tester{
		cfg:      cfg,
		reporter: client.NewReporter(base+"/v1/ingest", cfg.secret, client.Options{RetryMax: -1, Timeout: cfg.httpTimeout}),
		http:     httpClient,
		metrics:  newMetricsCollector(),
		out:      out,
	}
}

func (t *tester) nodeID(i int) string {
	return fmt.Sprintf("%s-%03d", t.cfg.prefix, i)
}

func (t *tester) run(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{fmt.Sprintf("Step 1: %d reports from %d nodes", t.cfg.nodes*t.cfg.reports, t.cfg.nodes), t.runIngestStep},
		{"Step 2: node list shows every node online", t.runListStep},
		{"Step 3: per-node metrics history", t.runMetricsStep},
	}

	for _, step := range steps {
		fmt.Fprintln(t.out, step.name)
		t.metrics.startStep(step.name)
		err := step.fn(ctx)
		t.metrics.endStep(err)
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		fmt.Fprintln(t.out, "✓ completed")
	}
	return nil
}

func (t *tester) runIngestStep(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.cfg.concurrency)

	for i := 0; i < t.cfg.nodes; i++ {
		nodeID := t.nodeID(i)
		group.Go(func() error {
			for n := 0; n < t.cfg.reports; n++ {
				start := time.Now()
				err := t.reporter.Send(groupCtx, syntheticReport(nodeID, n))
				t.metrics.recordOperation(opIngest, time.Since(start), err)
				if err != nil {
					return fmt.Errorf("report %d for %s: %w", n, nodeID, err)
				}
			}
			return nil
		})
	}
	return group.Wait()
}

func (t *tester) runListStep(ctx context.Context) error {
	var statuses []models.NodeStatus
	start := time.Now()
	err := t.getJSON(ctx, "/v1/nodes", &statuses)
	t.metrics.recordOperation(opList, time.Since(start), err)
	if err != nil {
		return err
	}

	seen := make(map[string]string, len(statuses))
	for _, status := range statuses {
		seen[status.ID] = status.Status
	}
	for i := 0; i < t.cfg.nodes; i++ {
		id := t.nodeID(i)
		status, ok := seen[id]
		if !ok {
			return fmt.Errorf("%w: node %s missing from list", errVerification, id)
		}
		if status != models.StatusOnline {
			return fmt.Errorf("%w: node %s is %s", errVerification, id, status)
		}
	}
	return nil
}

func (t *tester) runMetricsStep(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.cfg.concurrency)

	for i := 0; i < t.cfg.nodes; i++ {
		nodeID := t.nodeID(i)
		group.Go(func() error {
			var points []models.MetricPoint
			start := time.Now()
			err := t.getJSON(groupCtx, "/v1/nodes/"+url.PathEscape(nodeID)+"/metrics?range=1h", &points)
			t.metrics.recordOperation(opMetrics, time.Since(start), err)
			if err != nil {
				return err
			}
			if len(points) < t.cfg.reports {
				return fmt.Errorf("%w: node %s has %d points, want at least %d", errVerification, nodeID, len(points), t.cfg.reports)
			}
			return nil
		})
	}
	return group.Wait()
}

func (t *tester) getJSON(ctx context.Context, path string, target interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, t.cfg.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

func syntheticReport(nodeID string, n int) client.Report {
	step := uint64(n + 1)
	return client.Report{
		NodeID:   nodeID,
		Hostname: nodeID + ".load",
		Snapshot: client.Snapshot{
			CPUPercent:      float64(n%100) + 0.5,
			MemUsedPercent:  50,
			DiskUsedPercent: 25,
			NetRxBytes:      step * 1000,
			NetTxBytes:      step * 500,
			UptimeSeconds:   step * 60,
		},
		Bandwidth: client.Bandwidth{
			DeltaRxBytes: 1000,
			DeltaTxBytes: 500,
			TotalRxBytes: step * 1000,
			TotalTxBytes: step * 500,
			RxSpeed:      16,
			TxSpeed:      8,
		},
		Meta: map[string]string{"source": "probe-load"},
	}
}
