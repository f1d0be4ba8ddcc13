package x402

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
)

// NegotiationClient drives the 402-detect/sign/retry handshake. It issues
// the original request unmodified; on a 402 it decodes the requirement,
// builds and signs a transfer authorization, and retries the request exactly
// once with the X-PAYMENT header attached. Responses with any other status
// pass through untouched, so unrelated 4xx/5xx are never swallowed.
type NegotiationClient struct {
	httpClient *http.Client
	signer     Signer
	networks   map[string]bool
	builder    *AuthorizationBuilder
}

// NegotiationOption configures the client.
type NegotiationOption func(*NegotiationClient)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) NegotiationOption {
	return func(c *NegotiationClient) {
		c.httpClient = httpClient
	}
}

// WithSigner binds the signing capability. Without one, any 402 terminates
// with wallet_required before a second network call is made.
func WithSigner(signer Signer) NegotiationOption {
	return func(c *NegotiationClient) {
		c.signer = signer
	}
}

// WithNetworks restricts which networks the client will pay on. Defaults to
// every network in NetworkConfigs.
func WithNetworks(networks ...string) NegotiationOption {
	return func(c *NegotiationClient) {
		c.networks = make(map[string]bool, len(networks))
		for _, n := range networks {
			c.networks[n] = true
		}
	}
}

// NewNegotiationClient creates a negotiation client.
func NewNegotiationClient(opts ...NegotiationOption) *NegotiationClient {
	c := &NegotiationClient{
		httpClient: http.DefaultClient,
		builder:    NewAuthorizationBuilder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.networks == nil {
		c.networks = make(map[string]bool, len(NetworkConfigs))
		for network := range NetworkConfigs {
			c.networks[network] = true
		}
	}
	return c
}

// Do performs the request with automatic payment negotiation. The returned
// response is final regardless of status; at most one retry is issued per
// call, never a loop on repeated 402s.
func (c *NegotiationClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	// The retry must carry an identical body. Requests built with
	// http.NewRequest already expose GetBody; buffer anything else once.
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	header, err := c.negotiate(ctx, body)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		retryBody, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = retryBody
	}
	retry.Header.Set(PaymentHeader, header)

	return c.httpClient.Do(retry)
}

// Get performs a GET request with automatic payment negotiation.
func (c *NegotiationClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// negotiate turns a 402 body into an X-PAYMENT header value. On any failure
// all partial state (nonce, unsigned payload) is discarded; nothing is
// cached across attempts.
func (c *NegotiationClient) negotiate(ctx context.Context, body []byte) (string, error) {
	req, err := Decode402Body(body)
	if err != nil {
		return "", err
	}

	if req.Scheme != SchemeExact {
		return "", NewPaymentError(ErrCodeUnsupportedScheme, "unsupported payment scheme", map[string]interface{}{
			"scheme": req.Scheme,
		})
	}
	if !c.networks[req.Network] || !IsValidNetwork(req.Network) {
		return "", NewPaymentError(ErrCodeUnsupportedScheme, "client is not configured for network", map[string]interface{}{
			"network": req.Network,
		})
	}

	if c.signer == nil {
		return "", NewPaymentError(ErrCodeWalletRequired, "no signing capability bound", nil)
	}

	auth, err := c.builder.Build(req, c.signer.Address())
	if err != nil {
		return "", err
	}

	signature, err := c.signAuthorization(ctx, req, auth)
	if err != nil {
		return "", err
	}

	payment := &SignedPayment{
		X402Version: Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: ExactEvmPayload{
			Signature:     signature,
			Authorization: *auth,
		},
	}
	return EncodeRetryHeader(payment)
}

// signAuthorization signs the EIP-3009 authorization over the token's
// EIP-712 domain and returns the normalized signature as 0x-hex.
func (c *NegotiationClient) signAuthorization(ctx context.Context, req *PaymentRequirements, auth *ExactEvmAuthorization) (string, error) {
	config, err := GetNetworkConfig(req.Network)
	if err != nil {
		return "", NewPaymentError(ErrCodeUnsupportedScheme, err.Error(), nil)
	}

	tokenName := config.DefaultAsset.Name
	tokenVersion := config.DefaultAsset.Version
	if req.Extra != nil {
		if req.Extra.Name != "" {
			tokenName = req.Extra.Name
		}
		if req.Extra.Version != "" {
			tokenVersion = req.Extra.Version
		}
	}

	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: req.Asset,
	}

	message, err := typedDataMessage(auth)
	if err != nil {
		return "", NewPaymentError(ErrCodeMalformedRequirement, err.Error(), nil)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := c.signer.SignTypedData(ctx, domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
	if err != nil {
		return "", NewPaymentError(ErrCodeSigningRejected, "signer rejected the authorization", map[string]interface{}{
			"error": err.Error(),
		})
	}

	components, err := ParseSignature(raw)
	if err != nil {
		return "", NewPaymentError(ErrCodeSigningRejected, err.Error(), nil)
	}

	normalized := make([]byte, 65)
	copy(normalized[0:32], components.R[:])
	copy(normalized[32:64], components.S[:])
	normalized[64] = components.V

	return "0x" + hex.EncodeToString(normalized), nil
}

// PaymentRoundTripper adds transparent payment negotiation to any
// http.Client via its Transport.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Client    *NegotiationClient
}

// RoundTrip implements http.RoundTripper. The single-retry bound is local
// to each call; concurrent requests share no mutable state.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	ctx := req.Context()
	header, err := t.Client.negotiate(ctx, body)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		retryBody, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = retryBody
	}
	retry.Header.Set(PaymentHeader, header)

	return transport.RoundTrip(retry)
}

// WrapHTTPClient installs payment negotiation on an existing http.Client.
func WrapHTTPClient(httpClient *http.Client, client *NegotiationClient) *http.Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient.Transport = &PaymentRoundTripper{
		Transport: httpClient.Transport,
		Client:    client,
	}
	return httpClient
}
