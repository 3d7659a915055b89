package usecase

import (
	"context"
	"errors"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ReferralUseCase = (*referralUC)(nil)

// ReferralUseCase manages the admin-created /start links used to attribute
// new users and their purchases.
type ReferralUseCase interface {
	Create(ctx context.Context, name string, creatorTgID int64) (*model.ReferralLink, error)
	ListActive(ctx context.Context, limit int) ([]*model.ReferralLink, error)
}

// codeAttempts bounds retries on an 8-character code collision.
const codeAttempts = 3

type referralUC struct {
	refs repository.ReferralRepository
	log  *zerolog.Logger
}

func NewReferralUseCase(refs repository.ReferralRepository, logger *zerolog.Logger) *referralUC {
	return &referralUC{refs: refs, log: logger}
}

func (r *referralUC) Create(ctx context.Context, name string, creatorTgID int64) (*model.ReferralLink, error) {
	var err error
	for i := 0; i < codeAttempts; i++ {
		var link *model.ReferralLink
		link, err = model.NewReferralLink(name, creatorTgID)
		if err != nil {
			return nil, err
		}
		err = r.refs.Create(ctx, repository.NoTX, link)
		if err == nil {
			r.log.Info().Str("ref_code", link.Code).Str("name", link.Name).Int64("creator_tg_id", creatorTgID).Msg("referral link created")
			return link, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, err
}

func (r *referralUC) ListActive(ctx context.Context, limit int) ([]*model.ReferralLink, error) {
	return r.refs.ListActive(ctx, repository.NoTX, limit)
}
