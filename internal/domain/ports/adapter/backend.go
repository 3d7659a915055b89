package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the decoded /lw-coin/balance answer.
type Balance struct {
	Balance               int64      `json:"balance"`
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
}

type SubscriptionGrant struct {
	Success        bool       `json:"success"`
	NewBalance     int64      `json:"newBalance"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
}

type BalanceResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"balance"`
}

type AuthResult struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
}

type UserStats struct {
	Workouts   int   `json:"workouts"`
	Photos     int   `json:"photos"`
	Voice      int   `json:"voice"`
	Text       int   `json:"text"`
	CoinsSpent int64 `json:"coinsSpent"`
}

// BackendLedger is the port for the fitness backend that owns coin balances.
// Errors wrap domain.ErrBackendUnavailable or domain.ErrBackendRejected.
type BackendLedger interface {
	GetBalance(ctx context.Context, token string) (Balance, error)
	// GrantSubscription adds coins and days in one call.
	GrantSubscription(ctx context.Context, token string, coins int64, days int, price decimal.Decimal) (SubscriptionGrant, error)
	// GrantBalance SETS the balance to newTotal. Callers must serialize read-add-set per user.
	GrantBalance(ctx context.Context, token string, newTotal int64, source string) (BalanceResult, error)

	SendVerificationCode(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, email, code string) (AuthResult, error)
	GetUserStats(ctx context.Context, token string) (UserStats, error)
}
