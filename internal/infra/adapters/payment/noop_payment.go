package payment

import (
	"context"
	"fmt"
	"sync"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests.
// Every checkout starts pending; SetStatus flips it.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	statuses map[string]adapter.GatewayStatus
	secret   []byte
}

func NewNoopPaymentGateway(secret string) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		statuses: make(map[string]adapter.GatewayStatus),
		secret:   []byte(secret),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("noop-%d", g.seq)
	g.statuses[ref] = adapter.GatewayPending
	return adapter.Checkout{URL: "https://example.test/pay/" + ref, ProviderRef: ref}, nil
}

func (g *NoopPaymentGateway) GetStatus(ctx context.Context, providerRef string) (adapter.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[providerRef]
	if !ok {
		return adapter.GatewayUnknown, domain.ErrNotFound
	}
	return st, nil
}

// SetStatus simulates the provider settling a checkout.
func (g *NoopPaymentGateway) SetStatus(providerRef string, st adapter.GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[providerRef] = st
}

func (g *NoopPaymentGateway) VerifySignature(signature string, body []byte) bool {
	return VerifyHMAC(g.secret, signature, body)
}
