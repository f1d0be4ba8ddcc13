package x402

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flatRequirement = `{
	"scheme": "exact",
	"network": "base-sepolia",
	"maxAmountRequired": "1000000",
	"resource": "/api/metadata/1",
	"description": "Token metadata",
	"mimeType": "application/json",
	"payTo": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
	"maxTimeoutSeconds": 300,
	"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
}`

func TestDecode402BodyFlat(t *testing.T) {
	req, err := Decode402Body([]byte(flatRequirement))
	require.NoError(t, err)

	assert.Equal(t, SchemeExact, req.Scheme)
	assert.Equal(t, "base-sepolia", req.Network)
	assert.Equal(t, "1000000", req.MaxAmountRequired)
	assert.Equal(t, 300, req.MaxTimeoutSeconds)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", req.Asset)
}

func TestDecode402BodyEnvelope(t *testing.T) {
	body := `{"x402Version": 1, "error": "X-PAYMENT header is required", "accepts": [` + flatRequirement + `]}`

	req, err := Decode402Body([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "1000000", req.MaxAmountRequired)
	assert.Equal(t, "/api/metadata/1", req.Resource)
}

func TestDecode402BodyMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>payment required</html>`},
		{"empty object", `{}`},
		{"missing payTo", `{"scheme":"exact","network":"base-sepolia","maxAmountRequired":"1","resource":"/x","asset":"0xa"}`},
		{"numeric amount", `{"scheme":"exact","network":"base-sepolia","maxAmountRequired":1000000,"resource":"/x","payTo":"0xp","asset":"0xa"}`},
		{"negative amount", `{"scheme":"exact","network":"base-sepolia","maxAmountRequired":"-5","resource":"/x","payTo":"0xp","asset":"0xa"}`},
		{"non-numeric amount", `{"scheme":"exact","network":"base-sepolia","maxAmountRequired":"1.5e6","resource":"/x","payTo":"0xp","asset":"0xa"}`},
		{"empty accepts", `{"x402Version":1,"accepts":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode402Body([]byte(tt.body))
			require.Error(t, err)

			var perr *PaymentError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, ErrCodeMalformedRequirement, perr.Code)
		})
	}
}

func TestDecode402BodyEnvelopeValidatesFirstAccept(t *testing.T) {
	body := `{"x402Version": 1, "accepts": [{"scheme": "exact", "network": "base-sepolia"}]}`

	_, err := Decode402Body([]byte(body))
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeMalformedRequirement, perr.Code)
}

func TestRetryHeaderRoundTrip(t *testing.T) {
	payment := &SignedPayment{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     "base-sepolia",
		Payload: ExactEvmPayload{
			Signature: "0xdeadbeef",
			Authorization: ExactEvmAuthorization{
				From:        "0xF00d000000000000000000000000000000000001",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "1000000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000300",
				Nonce:       "0x0011",
			},
		},
	}

	header, err := EncodeRetryHeader(payment)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), header[0], "canonical encoding is plain JSON")

	decoded, err := DecodeRetryHeader(header)
	require.NoError(t, err)
	assert.Equal(t, payment, decoded)
}

func TestDecodeRetryHeaderBase64(t *testing.T) {
	payment := &SignedPayment{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     "base",
		Payload: ExactEvmPayload{
			Signature:     "0xsig",
			Authorization: ExactEvmAuthorization{Value: "42"},
		},
	}

	header, err := EncodeRetryHeader(payment)
	require.NoError(t, err)

	decoded, err := DecodeRetryHeader(base64.StdEncoding.EncodeToString([]byte(header)))
	require.NoError(t, err)
	assert.Equal(t, payment, decoded)
}

func TestDecodeRetryHeaderGarbage(t *testing.T) {
	for _, header := range []string{"", "not base64 !!!", "{broken"} {
		_, err := DecodeRetryHeader(header)
		require.Error(t, err, header)

		var perr *PaymentError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrCodeMalformedRequirement, perr.Code)
	}
}
