package repository

import (
	"context"

	"fitness-payments-bot/internal/domain/model"
)

// -----------------------------
// Referral links
// -----------------------------

// ReferralRepository stores referral links and their counters. The Record*
// methods only touch active links and report false for unknown codes.
type ReferralRepository interface {
	Create(ctx context.Context, tx Tx, l *model.ReferralLink) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ReferralLink, error)
	// ListActive returns active links newest first, with Revenue filled in.
	ListActive(ctx context.Context, tx Tx, limit int) ([]*model.ReferralLink, error)
	RecordClick(ctx context.Context, tx Tx, code string) (bool, error)
	RecordRegistration(ctx context.Context, tx Tx, code string) (bool, error)
	RecordPurchase(ctx context.Context, tx Tx, code string) (bool, error)
}
