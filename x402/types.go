// Package x402 implements the client and server halves of the x402
// micropayment handshake: a resource server answers 402 Payment Required
// with machine-readable payment requirements, and a client constructs a
// signed EIP-3009 transfer authorization and retries the request with an
// X-PAYMENT header attached.
package x402

import "encoding/json"

// Version is the x402 protocol version spoken by this package.
const Version = 1

// SchemeExact is the only payment scheme this package implements.
const SchemeExact = "exact"

// PaymentHeader carries the signed payment on the retried request.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader carries the settlement result back to the payer.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// PaymentRequirements are the server-declared terms for a gated resource,
// sent as the JSON body of a 402 response. Immutable once issued.
type PaymentRequirements struct {
	Scheme            string        `json:"scheme"`
	Network           string        `json:"network"`
	MaxAmountRequired string        `json:"maxAmountRequired"`
	Resource          string        `json:"resource"`
	Description       string        `json:"description,omitempty"`
	MimeType          string        `json:"mimeType,omitempty"`
	PayTo             string        `json:"payTo"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds,omitempty"`
	Asset             string        `json:"asset"`
	Extra             *PaymentExtra `json:"extra,omitempty"`
}

// PaymentExtra carries the token's EIP-712 domain parameters. When absent,
// clients fall back to the network's default asset registry.
type PaymentExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequired is the full 402 response body: one or more acceptable
// requirement sets plus a human-readable error.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ExactEvmAuthorization is the unsigned EIP-3009 TransferWithAuthorization
// payload. All numeric fields are decimal strings; atomic-unit amounts do
// not survive float representation.
type ExactEvmAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the authorization plus its 65-byte EIP-712 signature,
// hex encoded with a 0x prefix.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization ExactEvmAuthorization `json:"authorization"`
}

// SignedPayment is the protocol envelope serialized into the X-PAYMENT
// retry header. Created once per successful signing, never mutated, and
// discarded after the retried request completes.
type SignedPayment struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// VerifyResponse is the facilitator's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settlement request.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// Marshal renders the settle response for the X-PAYMENT-RESPONSE header.
func (s *SettleResponse) Marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
