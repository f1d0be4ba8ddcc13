package x402

import (
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/xeipuuv/gojsonschema"
)

// requirementsSchema is the shape contract for a single requirement object.
// Validation runs before decoding so a type mismatch surfaces as
// malformed_requirement instead of a half-populated struct.
const requirementsSchema = `{
	"type": "object",
	"required": ["scheme", "network", "maxAmountRequired", "resource", "payTo", "asset"],
	"properties": {
		"scheme":            {"type": "string", "minLength": 1},
		"network":           {"type": "string", "minLength": 1},
		"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
		"resource":          {"type": "string", "minLength": 1},
		"description":       {"type": "string"},
		"mimeType":          {"type": "string"},
		"payTo":             {"type": "string", "minLength": 1},
		"maxTimeoutSeconds": {"type": "integer"},
		"asset":             {"type": "string", "minLength": 1}
	}
}`

var requirementsSchemaLoader = gojsonschema.NewStringLoader(requirementsSchema)

// Decode402Body parses the JSON body of a 402 response into the first
// acceptable payment requirement. Both the enveloped form
// {"x402Version":1,"accepts":[...]} and a bare requirement object are
// accepted; anything else is malformed_requirement.
func Decode402Body(body []byte) (*PaymentRequirements, error) {
	var envelope PaymentRequired
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Accepts) > 0 {
		req := envelope.Accepts[0]
		if err := validateRequirements(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	raw := json.RawMessage(body)
	result, err := gojsonschema.Validate(requirementsSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, NewPaymentError(ErrCodeMalformedRequirement, "402 body is not valid JSON", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if !result.Valid() {
		details := make(map[string]interface{}, len(result.Errors()))
		for _, desc := range result.Errors() {
			details[desc.Field()] = desc.Description()
		}
		return nil, NewPaymentError(ErrCodeMalformedRequirement, "402 body does not match the requirement schema", details)
	}

	var req PaymentRequirements
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewPaymentError(ErrCodeMalformedRequirement, "failed to decode requirement", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := validateRequirements(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// validateRequirements enforces the field constraints the schema cannot see
// on the enveloped path, and the non-negative integer contract on the amount.
func validateRequirements(req *PaymentRequirements) error {
	missing := func(field string) error {
		return NewPaymentError(ErrCodeMalformedRequirement, "requirement is missing "+field, nil)
	}
	switch {
	case req.Scheme == "":
		return missing("scheme")
	case req.Network == "":
		return missing("network")
	case req.Resource == "":
		return missing("resource")
	case req.PayTo == "":
		return missing("payTo")
	case req.Asset == "":
		return missing("asset")
	}

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		return NewPaymentError(ErrCodeMalformedRequirement, "maxAmountRequired is not a non-negative integer string", map[string]interface{}{
			"maxAmountRequired": req.MaxAmountRequired,
		})
	}
	return nil
}

// EncodeRetryHeader serializes a signed payment into the X-PAYMENT header
// value. Field order is not significant; numeric fields stay decimal strings.
func EncodeRetryHeader(payment *SignedPayment) (string, error) {
	b, err := json.Marshal(payment)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeRetryHeader parses an X-PAYMENT header value. Plain JSON is the
// canonical encoding; base64-wrapped JSON from older clients is accepted too.
func DecodeRetryHeader(header string) (*SignedPayment, error) {
	data := []byte(header)
	if len(header) > 0 && header[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return nil, NewPaymentError(ErrCodeMalformedRequirement, "payment header is neither JSON nor base64", nil)
		}
		data = decoded
	}

	var payment SignedPayment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, NewPaymentError(ErrCodeMalformedRequirement, "invalid payment header JSON", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return &payment, nil
}
