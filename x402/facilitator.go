package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultFacilitatorURL is the public x402 settlement facilitator.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// FacilitatorClient talks to the external settlement facilitator, which
// owns signature verification, nonce tracking, and on-chain execution.
// This module only produces and forwards the signed artifact.
type FacilitatorClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewFacilitatorClient creates a facilitator client. An empty url selects
// the default facilitator.
func NewFacilitatorClient(url string) *FacilitatorClient {
	if url == "" {
		url = DefaultFacilitatorURL
	}
	return &FacilitatorClient{
		URL:        url,
		HTTPClient: &http.Client{},
	}
}

// Verify asks the facilitator whether a signed payment satisfies the
// requirements without executing it.
func (c *FacilitatorClient) Verify(ctx context.Context, payment *SignedPayment, requirements *PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", payment, requirements, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle submits a signed payment for on-chain execution.
func (c *FacilitatorClient) Settle(ctx context.Context, payment *SignedPayment, requirements *PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := c.post(ctx, "/settle", payment, requirements, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payment *SignedPayment, requirements *PaymentRequirements, out interface{}) error {
	reqBody := map[string]interface{}{
		"x402Version":         Version,
		"paymentPayload":      payment,
		"paymentRequirements": requirements,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s returned %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}
	return nil
}
