package x402

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GateOptions configures the server-side payment gate for one route group.
type GateOptions struct {
	// Price in atomic units of the asset (e.g. "1000000" for 1 USDC).
	Price string
	// PayTo receives the transfer.
	PayTo string
	// Network selects the chain; its default asset is charged unless Asset overrides it.
	Network string
	// Asset overrides the network's default token contract.
	Asset             string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Facilitator       *FacilitatorClient
	Logger            *zap.Logger
}

// GinPaymentMiddleware gates a route behind an x402 payment. Requests
// without a decodable X-PAYMENT header receive a 402 with the payment
// requirements; requests with one are verified against the facilitator,
// served, then settled, with the settlement receipt attached as
// X-PAYMENT-RESPONSE.
func GinPaymentMiddleware(opts GateOptions) gin.HandlerFunc {
	if opts.MaxTimeoutSeconds <= 0 {
		opts.MaxTimeoutSeconds = 300
	}
	if opts.Facilitator == nil {
		opts.Facilitator = NewFacilitatorClient("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		config, err := GetNetworkConfig(opts.Network)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": Version,
			})
			return
		}

		asset := opts.Asset
		if asset == "" {
			asset = config.DefaultAsset.Address
		}

		requirements := &PaymentRequirements{
			Scheme:            SchemeExact,
			Network:           opts.Network,
			MaxAmountRequired: opts.Price,
			Resource:          c.Request.URL.Path,
			Description:       opts.Description,
			MimeType:          opts.MimeType,
			PayTo:             opts.PayTo,
			MaxTimeoutSeconds: opts.MaxTimeoutSeconds,
			Asset:             asset,
			Extra: &PaymentExtra{
				Name:    config.DefaultAsset.Name,
				Version: config.DefaultAsset.Version,
			},
		}

		abortPaymentRequired := func(message string) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":       message,
				"accepts":     []*PaymentRequirements{requirements},
				"x402Version": Version,
			})
		}

		header := c.GetHeader(PaymentHeader)
		if header == "" {
			abortPaymentRequired("X-PAYMENT header is required")
			return
		}

		payment, err := DecodeRetryHeader(header)
		if err != nil {
			abortPaymentRequired("invalid X-PAYMENT header")
			return
		}

		verify, err := opts.Facilitator.Verify(c.Request.Context(), payment, requirements)
		if err != nil {
			logger.Error("payment verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": Version,
			})
			return
		}
		if !verify.IsValid {
			logger.Warn("invalid payment", zap.String("reason", verify.InvalidReason))
			abortPaymentRequired(verify.InvalidReason)
			return
		}

		// Buffer the handler's response so settlement failure can still turn
		// into a 402 instead of a half-written success.
		writer := &bufferedWriter{ResponseWriter: c.Writer, body: &strings.Builder{}, statusCode: http.StatusOK}
		c.Writer = writer
		c.Next()
		c.Writer = writer.ResponseWriter

		if c.IsAborted() {
			return
		}

		settle, err := opts.Facilitator.Settle(c.Request.Context(), payment, requirements)
		if err != nil || !settle.Success {
			if err != nil {
				logger.Error("settlement failed", zap.Error(err))
				abortPaymentRequired(err.Error())
			} else {
				logger.Warn("settlement rejected", zap.String("reason", settle.ErrorReason))
				abortPaymentRequired(settle.ErrorReason)
			}
			return
		}

		receipt, err := settle.Marshal()
		if err == nil {
			c.Header(PaymentResponseHeader, receipt)
		}
		c.Writer.WriteHeader(writer.statusCode)
		c.Writer.WriteString(writer.body.String())
	}
}

// bufferedWriter captures the handler's output until settlement completes.
type bufferedWriter struct {
	gin.ResponseWriter
	body       *strings.Builder
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return len(b), nil
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}
