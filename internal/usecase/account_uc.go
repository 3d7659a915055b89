package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/logging"
	"fitness-payments-bot/internal/infra/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ AccountUseCase = (*accountUC)(nil)

// TokenSealer encrypts backend tokens bound to a user id.
type TokenSealer interface {
	TokenOpener
	Seal(plaintext, owner string) (string, error)
}

// AccountUseCase drives the email-code link conversation and reads the
// linked backend account.
type AccountUseCase interface {
	BeginLink(ctx context.Context, tgID int64) error
	// SubmitEmail sends a verification code; on a bad address the
	// conversation stays at awaiting_email.
	SubmitEmail(ctx context.Context, tgID int64, email string) error
	// SubmitCode confirms the code and links the account.
	SubmitCode(ctx context.Context, tgID int64, code string) (*model.User, error)
	CancelLink(ctx context.Context, tgID int64) error
	LinkStep(ctx context.Context, tgID int64) (repository.LinkStep, error)

	Balance(ctx context.Context, tgID int64) (adapter.Balance, error)
	Stats(ctx context.Context, tgID int64) (adapter.UserStats, error)
	// SetBalance overwrites a linked user's coin balance (admin action). It
	// holds the same per-user lock as purchase credits.
	SetBalance(ctx context.Context, tgID int64, coins int64) (adapter.BalanceResult, error)
}

// adminBalanceSource tags balance writes made by an admin.
const adminBalanceSource = "admin"

const maxCodeAttempts = 5

type accountUC struct {
	users    repository.UserRepository
	states   repository.LinkStateRepository
	ledger   adapter.BackendLedger
	tokens   TokenSealer
	locker   CreditLocker
	validate *validator.Validate
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewAccountUseCase(users repository.UserRepository, states repository.LinkStateRepository, ledger adapter.BackendLedger, tokens TokenSealer, locker CreditLocker, timeout time.Duration, logger *zerolog.Logger) *accountUC {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &accountUC{
		users:    users,
		states:   states,
		ledger:   ledger,
		tokens:   tokens,
		locker:   locker,
		validate: validator.New(),
		timeout:  timeout,
		log:      logger,
	}
}

func (a *accountUC) BeginLink(ctx context.Context, tgID int64) error {
	user, err := a.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return err
	}
	if user.IsLinked() {
		return domain.ErrAlreadyLinked
	}
	// restarting from any step is allowed
	return a.states.Set(ctx, tgID, &repository.LinkState{Step: repository.LinkAwaitingEmail})
}

func (a *accountUC) SubmitEmail(ctx context.Context, tgID int64, email string) error {
	defer logging.TraceDuration(a.log, "AccountUC.SubmitEmail")()

	st, err := a.current(ctx, tgID)
	if err != nil {
		return err
	}
	if !st.Step.CanMove(repository.LinkAwaitingCode) {
		return domain.ErrLinkNotStarted
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if err := a.validate.Var(email, "required,email,max=254"); err != nil {
		metrics.IncAccountLink("bad_email")
		return domain.ErrInvalidEmail
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.ledger.SendVerificationCode(cctx, email); err != nil {
		metrics.IncAccountLink("send_failed")
		a.log.Warn().Err(err).Int64("tg_id", tgID).Msg("send verification code failed")
		return fmt.Errorf("send verification code: %w", err)
	}
	metrics.IncAccountLink("code_sent")
	return a.states.Set(ctx, tgID, &repository.LinkState{Step: repository.LinkAwaitingCode, Email: email})
}

func (a *accountUC) SubmitCode(ctx context.Context, tgID int64, code string) (*model.User, error) {
	defer logging.TraceDuration(a.log, "AccountUC.SubmitCode")()

	st, err := a.current(ctx, tgID)
	if err != nil {
		return nil, err
	}
	if st.Step != repository.LinkAwaitingCode || st.Email == "" {
		return nil, domain.ErrLinkNotStarted
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidArgument
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	auth, err := a.ledger.ConfirmEmail(cctx, st.Email, code)
	if err != nil {
		if errors.Is(err, domain.ErrBackendRejected) {
			st.Attempts++
			if st.Attempts >= maxCodeAttempts {
				metrics.IncAccountLink("too_many_attempts")
				_ = a.states.Clear(ctx, tgID)
				return nil, domain.ErrTooManyAttempts
			}
			if serr := a.states.Set(ctx, tgID, st); serr != nil {
				return nil, serr
			}
			metrics.IncAccountLink("bad_code")
		}
		return nil, fmt.Errorf("confirm email: %w", err)
	}

	user, err := a.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return nil, err
	}
	sealed, err := a.tokens.Seal(auth.AccessToken, user.ID)
	if err != nil {
		return nil, err
	}
	user.Link(st.Email, auth.UserID, sealed, time.Now())
	if err := a.users.Save(ctx, repository.NoTX, user); err != nil {
		return nil, err
	}
	if err := a.states.Clear(ctx, tgID); err != nil {
		a.log.Warn().Err(err).Int64("tg_id", tgID).Msg("clear link state failed")
	}
	metrics.IncAccountLink("linked")
	a.log.Info().Int64("tg_id", tgID).Str("backend_user_id", auth.UserID).Msg("account linked")
	return user, nil
}

func (a *accountUC) CancelLink(ctx context.Context, tgID int64) error {
	return a.states.Clear(ctx, tgID)
}

func (a *accountUC) LinkStep(ctx context.Context, tgID int64) (repository.LinkStep, error) {
	st, err := a.states.Get(ctx, tgID)
	if err != nil || st == nil {
		return repository.LinkIdle, err
	}
	return st.Step, nil
}

func (a *accountUC) Balance(ctx context.Context, tgID int64) (adapter.Balance, error) {
	token, err := a.token(ctx, tgID)
	if err != nil {
		return adapter.Balance{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.ledger.GetBalance(cctx, token)
}

func (a *accountUC) Stats(ctx context.Context, tgID int64) (adapter.UserStats, error) {
	token, err := a.token(ctx, tgID)
	if err != nil {
		return adapter.UserStats{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.ledger.GetUserStats(cctx, token)
}

func (a *accountUC) SetBalance(ctx context.Context, tgID int64, coins int64) (adapter.BalanceResult, error) {
	defer logging.TraceDuration(a.log, "AccountUC.SetBalance")()

	if coins < 0 {
		return adapter.BalanceResult{}, domain.ErrInvalidArgument
	}
	user, token, err := a.linked(ctx, tgID)
	if err != nil {
		return adapter.BalanceResult{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	unlock, err := a.locker.Lock(cctx, user.ID)
	if err != nil {
		return adapter.BalanceResult{}, fmt.Errorf("credit lock: %w", err)
	}
	defer unlock()

	res, err := a.ledger.GrantBalance(cctx, token, coins, adminBalanceSource)
	if err != nil {
		return adapter.BalanceResult{}, err
	}
	a.log.Info().Int64("tg_id", tgID).Int64("coins", coins).Int64("balance", res.NewBalance).Msg("balance set by admin")
	return res, nil
}

func (a *accountUC) current(ctx context.Context, tgID int64) (*repository.LinkState, error) {
	st, err := a.states.Get(ctx, tgID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &repository.LinkState{Step: repository.LinkIdle}, nil
	}
	return st, nil
}

func (a *accountUC) token(ctx context.Context, tgID int64) (string, error) {
	_, token, err := a.linked(ctx, tgID)
	return token, err
}

// linked loads a linked user and opens their backend token.
func (a *accountUC) linked(ctx context.Context, tgID int64) (*model.User, string, error) {
	user, err := a.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", domain.ErrAccountNotLinked
		}
		return nil, "", err
	}
	if !user.IsLinked() {
		return nil, "", domain.ErrAccountNotLinked
	}
	token, err := a.tokens.Open(user.BackendToken, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}
