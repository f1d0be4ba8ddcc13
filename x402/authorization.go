package x402

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// CreateNonce generates a fresh 32-byte nonce as a 0x-prefixed hex string.
// EIP-3009 rejects authorization replay per (from, nonce), so the nonce must
// come from a cryptographically secure source and must never be reused
// across attempts.
func CreateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce[:]), nil
}

// AuthorizationBuilder constructs unsigned transfer authorizations from
// payment requirements. The zero value is not usable; use NewAuthorizationBuilder.
type AuthorizationBuilder struct {
	now func() time.Time
}

// NewAuthorizationBuilder creates a builder on the wall clock.
func NewAuthorizationBuilder() *AuthorizationBuilder {
	return &AuthorizationBuilder{now: time.Now}
}

// Build computes the validity window and nonce for a transfer authorization:
// validAfter = now, validBefore = now + maxTimeoutSeconds. A requirement
// with a non-positive timeout cannot produce a valid window and fails with
// requirement_expired.
func (b *AuthorizationBuilder) Build(req *PaymentRequirements, from string) (*ExactEvmAuthorization, error) {
	if req.MaxTimeoutSeconds <= 0 {
		return nil, NewPaymentError(ErrCodeRequirementExpired, "requirement has a non-positive validity window", map[string]interface{}{
			"maxTimeoutSeconds": req.MaxTimeoutSeconds,
		})
	}

	nonce, err := CreateNonce()
	if err != nil {
		return nil, err
	}

	validAfter := b.now().Unix()
	validBefore := validAfter + int64(req.MaxTimeoutSeconds)

	return &ExactEvmAuthorization{
		From:        from,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}, nil
}

// SignatureComponents are the r, s, v parts of a 65-byte ECDSA signature.
type SignatureComponents struct {
	R [32]byte
	S [32]byte
	V uint8
}

// ParseSignature splits a 65-byte signature into r, s, v. Signing providers
// disagree on the recovery byte convention ({0,1} vs {27,28}); v is
// normalized to the on-chain {27,28} form here rather than assumed.
func ParseSignature(sig []byte) (*SignatureComponents, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	var c SignatureComponents
	copy(c.R[:], sig[0:32])
	copy(c.S[:], sig[32:64])

	c.V = sig[64]
	if c.V < 27 {
		c.V += 27
	}
	if c.V != 27 && c.V != 28 {
		return nil, fmt.Errorf("invalid recovery byte: %d", sig[64])
	}
	return &c, nil
}

// typedDataMessage renders an authorization as the EIP-712 message map for
// TransferWithAuthorization.
func typedDataMessage(auth *ExactEvmAuthorization) (map[string]interface{}, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", auth.ValidBefore)
	}
	nonceBytes, err := hex.DecodeString(trimHexPrefix(auth.Nonce))
	if err != nil || len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce: %s", auth.Nonce)
	}

	return map[string]interface{}{
		"from":        auth.From,
		"to":          auth.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
