// Copyright 2025 Certen Protocol
//
// Uploader (C7). Posts signed records to the storage gateway, either as
// one bundle transaction or as bounded-concurrency individual
// transactions, and reports a per-record outcome. Bundle uploads are
// post-verified against the status endpoint before being reported
// success, guarding against a "ghost upload" — an HTTP 200 whose data
// never actually propagates.

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/arkechain/attest-core/pkg/bundle"
	"github.com/arkechain/attest-core/pkg/record"
)

// Outcome is the per-record result of an upload attempt.
type Outcome struct {
	ID       string
	Success  bool
	Error    string
	Attempts int
}

// errNonRetryable wraps an error the backoff loop must not retry, e.g.
// a payment-required (402) response.
type errNonRetryable struct{ err error }

func (e *errNonRetryable) Error() string { return e.err.Error() }
func (e *errNonRetryable) Unwrap() error { return e.err }

// Client posts records and bundles to the storage gateway.
type Client struct {
	gatewayURL string
	httpClient *http.Client
	timeout    time.Duration
	concurrency int
	maxRetries  int
}

// New constructs a Client.
func New(gatewayURL string, timeout time.Duration, concurrency, maxRetries int) *Client {
	return &Client{
		gatewayURL:  gatewayURL,
		httpClient:  &http.Client{},
		timeout:     timeout,
		concurrency: concurrency,
		maxRetries:  maxRetries,
	}
}

// UploadDirect POSTs each signed record individually with bounded
// concurrency, retrying transient failures with exponential backoff. A
// 402 (payment required) response is non-retryable.
func (c *Client) UploadDirect(ctx context.Context, signed []record.Signed) []Outcome {
	outcomes := make([]Outcome, len(signed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, s := range signed {
		i, s := i, s
		g.Go(func() error {
			outcomes[i] = c.uploadOne(gctx, s)
			return nil
		})
	}
	_ = g.Wait() // per-record errors are captured in outcomes, never propagated
	return outcomes
}

func (c *Client) uploadOne(ctx context.Context, s record.Signed) Outcome {
	attempts := 0
	operation := func() error {
		attempts++
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		status, body, err := c.postItem(reqCtx, s.RawJSON, s.Payload.Tags())
		if err != nil {
			return err
		}
		if status == http.StatusPaymentRequired {
			return backoff.Permanent(&errNonRetryable{fmt.Errorf("payment required: %s", body)})
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("gateway returned %d: %s", status, body)
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err != nil {
		return Outcome{ID: s.ID, Success: false, Error: err.Error(), Attempts: attempts}
	}
	return Outcome{ID: s.ID, Success: true, Attempts: attempts}
}

func (c *Client) postItem(ctx context.Context, body []byte, tags [][2]string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/tx", bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, t := range tags {
		req.Header.Set("X-Tag-"+t[0], t[1])
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(respBody), nil
}

// BundleResult is the outcome of a single bundle upload.
type BundleResult struct {
	BundleTx string
	Success  bool
	Error    string
}

// UploadBundle POSTs the whole encoded bundle as one transaction, then
// polls the status endpoint a few times to confirm it actually
// propagated before reporting success.
func (c *Client) UploadBundle(ctx context.Context, encoded []byte) BundleResult {
	tags := [][2]string{
		{bundle.TagBundleFormat, bundle.BundleFormat},
		{bundle.TagBundleVersion, bundle.BundleVersion},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, body, err := c.postItem(reqCtx, encoded, tags)
	if err != nil {
		return BundleResult{Success: false, Error: err.Error()}
	}
	if status < 200 || status >= 300 {
		return BundleResult{Success: false, Error: fmt.Sprintf("gateway returned %d: %s", status, body)}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil || resp.ID == "" {
		return BundleResult{Success: false, Error: fmt.Sprintf("gateway response missing transaction id: %s", body)}
	}

	if err := c.verifySeeded(ctx, resp.ID); err != nil {
		return BundleResult{BundleTx: resp.ID, Success: false, Error: err.Error()}
	}
	return BundleResult{BundleTx: resp.ID, Success: true}
}

// verifySeeded polls the status endpoint a small, bounded number of
// times to rule out a ghost upload before the bundle is reported success.
func (c *Client) verifySeeded(ctx context.Context, txID string) error {
	const attempts = 3
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), attempts-1)

	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.gatewayURL+"/tx/"+txID+"/status", nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build status request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach gateway: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return fmt.Errorf("transaction %s not yet seeded (status %d)", txID, resp.StatusCode)
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Confirmations reports the gateway's confirmation count for a
// transaction, satisfying pkg/seeding.StatusChecker. A transaction the
// gateway doesn't know about yet reports 0 confirmations rather than
// an error.
func (c *Client) Confirmations(ctx context.Context, txID string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.gatewayURL+"/tx/"+txID+"/status", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build status request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, nil
	}

	var status struct {
		NumberOfConfirmations int `json:"number_of_confirmations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return 0, fmt.Errorf("failed to decode status response: %w", err)
	}
	return status.NumberOfConfirmations, nil
}
