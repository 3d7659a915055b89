package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the provider-reported state of a checkout.
type GatewayStatus string

const (
	GatewayPending GatewayStatus = "pending"
	GatewayPaid    GatewayStatus = "paid"
	GatewayFailed  GatewayStatus = "failed"
	GatewayUnknown GatewayStatus = "unknown" // ambiguous answer or transport error; never acted upon
)

type CheckoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	OrderID     string
	Description string
	BuyerRef    string // telegram id of the buyer
}

type Checkout struct {
	URL         string
	ProviderRef string
}

// PaymentGateway is the hex port for the external checkout provider.
type PaymentGateway interface {
	Name() string

	// CreateCheckout returns a checkout URL for the order.
	// Errors wrap domain.ErrGatewayUnavailable (network/5xx) or domain.ErrGatewayRejected (4xx).
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// GetStatus maps the provider's answer onto GatewayStatus. Any failure yields
	// GatewayUnknown together with the error for logging.
	GetStatus(ctx context.Context, providerRef string) (GatewayStatus, error)
	// VerifySignature checks a callback body against its signature header.
	// It returns false when no webhook secret is configured.
	VerifySignature(signature string, body []byte) bool
}
