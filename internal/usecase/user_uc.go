package usecase

import (
	"context"
	"errors"
	"time"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/logging"
	"fitness-payments-bot/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by bot/admin flows.
type UserUseCase interface {
	// RegisterOrFetch returns the user, creating it on first contact. created is
	// true only for a brand-new row. refCode is the /start payload; a new user
	// is attributed to it when it names an active referral link.
	RegisterOrFetch(ctx context.Context, tgID int64, username, refCode string) (u *model.User, created bool, err error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	// SetBanned bans or unbans a known user. Admins cannot be banned.
	SetBanned(ctx context.Context, tgID int64, banned bool) (*model.User, error)
	// IsBanned is false for users the bot has never seen.
	IsBanned(ctx context.Context, tgID int64) (bool, error)
	Count(ctx context.Context) (int, error)
	CountActiveSince(ctx context.Context, since time.Time) (int, error)
}

type userUC struct {
	users    repository.UserRepository
	refs     repository.ReferralRepository
	tm       repository.TransactionManager
	settings SettingsService
	admins   map[int64]struct{}
	log      *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, refs repository.ReferralRepository, tm repository.TransactionManager, settings SettingsService, adminIDs []int64, logger *zerolog.Logger) *userUC {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &userUC{
		users:    users,
		refs:     refs,
		tm:       tm,
		settings: settings,
		admins:   admins,
		log:      logger,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username, refCode string) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	if u.refs == nil || !model.ValidReferralCode(refCode) {
		refCode = ""
	}

	var (
		user    *model.User
		created bool
	)
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
		switch {
		case err == nil:
			if username != "" {
				usr.Username = username
			}
			_, usr.IsAdmin = u.admins[tgID]
			usr.Touch()
			if err := u.users.Save(ctx, tx, usr); err != nil {
				return err
			}
			user = usr
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		nu, err := model.NewUser("", tgID, username)
		if err != nil {
			return err
		}
		nu.RegistrationCoins = u.settings.RegistrationCoins()
		_, nu.IsAdmin = u.admins[tgID]
		if refCode != "" {
			link, err := u.refs.FindByCode(ctx, tx, refCode)
			switch {
			case err == nil && link.IsActive:
				nu.ReferredBy = link.Code
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user, created = nu, true
		return nil
	})
	if err != nil {
		u.log.Error().Err(err).Int64("tg_id", tgID).Msg("register user failed")
		return nil, false, err
	}
	if created {
		metrics.IncUsersRegistered()
	}
	if refCode != "" {
		u.trackReferral(ctx, user, refCode, created)
	}
	return user, created, nil
}

// trackReferral bumps the link counters after the user row is committed.
// Counters are statistics; a failure is logged and never fails /start.
func (u *userUC) trackReferral(ctx context.Context, user *model.User, code string, created bool) {
	ok, err := u.refs.RecordClick(ctx, repository.NoTX, code)
	if err != nil {
		u.log.Warn().Err(err).Str("ref_code", code).Msg("record referral click failed")
		return
	}
	if !ok {
		return
	}
	metrics.IncReferral("click")
	if !created || user.ReferredBy != code {
		return
	}
	if _, err := u.refs.RecordRegistration(ctx, repository.NoTX, code); err != nil {
		u.log.Warn().Err(err).Str("ref_code", code).Msg("record referral registration failed")
		return
	}
	metrics.IncReferral("registration")
	u.log.Info().Int64("tg_id", user.TelegramID).Str("ref_code", code).Msg("user registered via referral")
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByTelegramID")()
	return u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
}

func (u *userUC) SetBanned(ctx context.Context, tgID int64, banned bool) (*model.User, error) {
	usr, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return nil, err
	}
	if _, admin := u.admins[tgID]; banned && (admin || usr.IsAdmin) {
		return nil, domain.ErrInvalidArgument
	}
	if usr.IsBanned == banned {
		return usr, nil
	}
	usr.IsBanned = banned
	if err := u.users.Save(ctx, repository.NoTX, usr); err != nil {
		return nil, err
	}
	u.log.Info().Int64("tg_id", tgID).Bool("banned", banned).Msg("user ban changed")
	return usr, nil
}

func (u *userUC) IsBanned(ctx context.Context, tgID int64) (bool, error) {
	usr, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return usr.IsBanned, nil
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	return u.users.CountUsers(ctx, repository.NoTX)
}

func (u *userUC) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	return u.users.CountActiveSince(ctx, repository.NoTX, since)
}
