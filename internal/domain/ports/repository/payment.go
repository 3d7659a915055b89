package repository

import (
	"context"
	"time"

	"fitness-payments-bot/internal/domain/model"

	"github.com/shopspring/decimal"
)

// PageCursor is the keyset position after the last row of a page.
// The zero value starts from the beginning.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}

func (c PageCursor) IsZero() bool { return c.ID == "" }

// CursorOf returns the cursor positioned after p.
func CursorOf(p *model.Payment) PageCursor {
	return PageCursor{CreatedAt: p.CreatedAt, ID: p.ID}
}

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Create inserts a new payment; domain.ErrDuplicateOrder if order_id exists.
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.Payment, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Payment, error)
	// ListPending returns one page of pending payments created strictly after
	// createdAfter, ordered by (created_at, id) and starting past cursor.
	ListPending(ctx context.Context, tx Tx, createdAfter time.Time, after PageCursor, limit int) ([]*model.Payment, error)
	// ListPendingOlderThan returns pending payments created at or before olderThan.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, after PageCursor, limit int) ([]*model.Payment, error)

	// Transition moves a payment out of pending in one conditional write.
	// It returns domain.ErrInvalidTransition when the payment is no longer
	// pending and domain.ErrNotFound when it does not exist. Moving to
	// completed sets completed_at and credit_state=crediting atomically.
	Transition(ctx context.Context, tx Tx, orderID string, to model.PaymentStatus, at time.Time) error
	AttachCheckout(ctx context.Context, tx Tx, orderID, providerRef, checkoutURL string) error
	// SetCreditState is a compare-and-set on credit_state; false when from did not match.
	SetCreditState(ctx context.Context, tx Tx, orderID string, from, to model.CreditState, lastErr string) (bool, error)
	// ListDangling returns completed payments whose credit failed, plus those
	// still crediting with updated_at before staleBefore. Oldest completion first.
	ListDangling(ctx context.Context, tx Tx, staleBefore time.Time, limit int) ([]*model.Payment, error)
	// ReclaimStaleCredit claims a crediting payment untouched since staleBefore
	// by moving its updated_at to at; false when it is not stale or not crediting.
	ReclaimStaleCredit(ctx context.Context, tx Tx, orderID string, staleBefore, at time.Time) (bool, error)

	SumCompletedSince(ctx context.Context, tx Tx, since time.Time) (map[string]decimal.Decimal, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.PaymentStatus]int, error)
}
