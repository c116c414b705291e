// Copyright 2025 Certen Protocol
//
// Wallet / balance checker (C4). Derives the wallet address from the
// JWK on disk and reports spendable AR balance from the gateway. Balance checks are
// best-effort: a failed check must never block the processing tick, so
// Checker.Balance returns the error to the caller to log and ignore
// rather than retrying internally.

package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// winstonPerAR is the fixed-point scale of Arweave's native unit.
const winstonPerAR = 1e12

// Status classifies a balance reading against the configured thresholds.
type Status string

const (
	StatusOK       Status = "ok"
	StatusLow      Status = "low"
	StatusCritical Status = "critical"
)

// Balancer is the interface pkg/orchestrator depends on, satisfied by
// *Checker and test fakes.
type Balancer interface {
	Address() string
	Balance(ctx context.Context) (float64, error)
}

// Checker reports the spendable balance of the configured wallet.
type Checker struct {
	address    string
	gatewayURL string
	httpClient *http.Client
}

// New loads the JWK at jwkPath to derive the wallet address and
// constructs a Checker against gatewayURL (e.g. https://arweave.net).
func New(jwkPath, gatewayURL string) (*Checker, error) {
	addr, err := addressFromJWK(jwkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet address: %w", err)
	}
	return &Checker{
		address:    addr,
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Address returns the wallet's base64url address.
func (c *Checker) Address() string { return c.address }

// Balance fetches the current spendable balance in AR.
func (c *Checker) Balance(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/wallet/%s/balance", c.gatewayURL, c.address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var winston int64
	if err := json.Unmarshal(body, &winston); err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", string(body), err)
	}
	return float64(winston) / winstonPerAR, nil
}

// Classify maps a balance reading against the configured thresholds.
func Classify(balanceAR, criticalAR, warningAR float64) Status {
	switch {
	case balanceAR < criticalAR:
		return StatusCritical
	case balanceAR < warningAR:
		return StatusLow
	default:
		return StatusOK
	}
}

var _ Balancer = (*Checker)(nil)

type jwk struct {
	N string `json:"n"`
}

// addressFromJWK derives an Arweave wallet address as
// base64url(SHA-256(modulus)), matching the network's own derivation.
func addressFromJWK(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read JWK file: %w", err)
	}
	var k jwk
	if err := json.Unmarshal(b, &k); err != nil {
		return "", fmt.Errorf("failed to parse JWK file: %w", err)
	}
	if k.N == "" {
		return "", fmt.Errorf("JWK file missing modulus (n)")
	}
	return addressFromModulus(k.N), nil
}
