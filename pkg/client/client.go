// Package client sends signed telemetry reports to a probehub collector.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"probehub/pkg/auth"
	"probehub/pkg/log"
)

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
	defaultTimeout      = 10 * time.Second

	// maxErrorBody bounds how much of an error response is decoded.
	maxErrorBody = 4096
)

// Snapshot is the point-in-time resource usage of the reporting host.
type Snapshot struct {
	CPUPercent      float64 `json:"cpuPercent"`
	MemUsedPercent  float64 `json:"memUsedPercent"`
	DiskUsedPercent float64 `json:"diskUsedPercent"`
	NetRxBytes      uint64  `json:"netRxBytes"`
	NetTxBytes      uint64  `json:"netTxBytes"`
	UptimeSeconds   uint64  `json:"uptimeSeconds"`
}

// Bandwidth carries counter deltas since the previous report and totals.
type Bandwidth struct {
	DeltaRxBytes uint64 `json:"deltaRxBytes"`
	DeltaTxBytes uint64 `json:"deltaTxBytes"`
	TotalRxBytes uint64 `json:"totalRxBytes"`
	TotalTxBytes uint64 `json:"totalTxBytes"`
	RxSpeed      uint64 `json:"rxSpeed"`
	TxSpeed      uint64 `json:"txSpeed"`
}

// Report is the ingestion body.
type Report struct {
	NodeID    string            `json:"nodeId"`
	Hostname  string            `json:"hostname,omitempty"`
	Snapshot  Snapshot          `json:"snapshot"`
	Bandwidth Bandwidth         `json:"bandwidth"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// ResponseError is a rejection reported by the collector.
type ResponseError struct {
	StatusCode int
	Code       string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("collector returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("collector returned HTTP %d: %s", e.StatusCode, e.Code)
}

// Options tunes retries. Zero values select the defaults.
type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// Reporter signs and posts reports to one ingestion URL.
type Reporter struct {
	url    string
	secret []byte
	client *retryablehttp.Client
	now    func() time.Time
}

// NewReporter creates a reporter for the ingestion endpoint at url.
func NewReporter(url, secret string, opts Options) *Reporter {
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	} else if opts.RetryMax == 0 {
		opts.RetryMax = defaultRetryMax
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaultRetryWaitMin
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = defaultRetryWaitMax
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := CreateRetryableClient(opts.RetryMax, opts.RetryWaitMin, opts.RetryWaitMax)
	client.HTTPClient.Timeout = opts.Timeout

	return &Reporter{
		url:    url,
		secret: []byte(secret),
		client: client,
		now:    time.Now,
	}
}

// CreateRetryableClient builds a client that retries transport failures and
// gateway errors only.
func CreateRetryableClient(retryMax int, retryWaitMin, retryWaitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil // Disable retryablehttp logging
	client.CheckRetry = retryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// retryPolicy retries when no response arrived or a proxy in front of the
// collector failed. Collector answers, including 500 db_error and kv_error,
// are final: the durable write may already have happened.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	// Do not retry if context is cancelled
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return true, nil //nolint:nilerr // retryablehttp reports the final error
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// Send marshals and posts report.
func (r *Reporter) Send(ctx context.Context, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return r.SendRaw(ctx, body)
}

// SendRaw signs and posts an already encoded body. The timestamp is taken
// once, so retries carry the same signature.
func (r *Reporter) SendRaw(ctx context.Context, body []byte) error {
	timestamp := strconv.FormatInt(r.now().Unix(), 10)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Probe-Timestamp", timestamp)
	req.Header.Set("X-Probe-Signature", auth.Sign(r.secret, timestamp, body))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	respErr := &ResponseError{StatusCode: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		respErr.Code = body.Error
	}
	return respErr
}

// IsRejected reports whether err is a collector answer carrying code.
func IsRejected(err error, code string) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.Code == code
}
