package model

import (
	"time"

	"fitness-payments-bot/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // checkout issued; awaiting the provider
	PaymentStatusCompleted PaymentStatus = "completed" // provider confirmed; coins credited or crediting
	PaymentStatusFailed    PaymentStatus = "failed"    // provider declined or checkout could not be created
	PaymentStatusExpired   PaymentStatus = "expired"   // left pending past the expiry window
)

// IsTerminal reports whether no further status change is allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusExpired:
		return true
	}
	return false
}

// CanTransition allows only pending -> {completed, failed, expired}.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return s == PaymentStatusPending && to.IsTerminal()
}

// CreditState tracks the ledger side of a completed payment.
type CreditState string

const (
	CreditNone      CreditState = "none"      // payment not completed
	CreditCrediting CreditState = "crediting" // completed; ledger call in flight
	CreditCredited  CreditState = "credited"
	CreditFailed    CreditState = "failed" // dangling: completed but not credited
)

// Payment records one purchase attempt of a coin package.
type Payment struct {
	ID           string // UUID
	UserID       string // internal user UUID
	TelegramID   int64
	OrderID      string // ULID; idempotency key for crediting
	ProviderRef  string // provider's id for the checkout, empty until created
	CheckoutURL  string
	Amount       decimal.Decimal
	Currency     string
	Status       PaymentStatus
	PackageID    string
	Coins        int64
	DurationDays int
	CreditState  CreditState
	CreditError  string
	Meta         map[string]string // JSONB
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time // set iff Status == completed
}

// NewPayment builds a pending payment for pkg owned by user.
func NewPayment(user *User, pkg *Package, now time.Time) (*Payment, error) {
	if user.IsZero() || pkg == nil {
		return nil, domain.ErrInvalidArgument
	}
	if pkg.Coins < 0 || pkg.Days < 0 || !pkg.Price.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	return &Payment{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		TelegramID:   user.TelegramID,
		OrderID:      NewOrderID(now),
		Amount:       pkg.Price,
		Currency:     pkg.Currency,
		Status:       PaymentStatusPending,
		PackageID:    pkg.ID,
		Coins:        pkg.Coins,
		DurationDays: pkg.Days,
		CreditState:  CreditNone,
		Meta:         map[string]string{"package_name": pkg.Name},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewOrderID returns a lexically sortable, globally unique order id.
func NewOrderID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ExpiredAt reports whether a pending payment is older than window at now.
func (p *Payment) ExpiredAt(now time.Time, window time.Duration) bool {
	return p.Status == PaymentStatusPending && now.Sub(p.CreatedAt) > window
}

// SubscriptionGrant reports whether crediting goes through the subscription endpoint.
func (p *Payment) SubscriptionGrant() bool { return p.DurationDays > 0 }
