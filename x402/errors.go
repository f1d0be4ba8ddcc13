package x402

import "fmt"

// PaymentError is a terminal negotiation failure. Callers can distinguish
// "the resource legitimately returned an error" (a plain *http.Response)
// from "we could not complete payment" (a *PaymentError) by type.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Negotiation-side error codes. None are retried automatically.
const (
	ErrCodeMalformedRequirement = "malformed_requirement"
	ErrCodeUnsupportedScheme    = "unsupported_scheme"
	ErrCodeRequirementExpired   = "requirement_expired"
	ErrCodeWalletRequired       = "wallet_required"
	ErrCodeSigningRejected      = "signing_rejected"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
