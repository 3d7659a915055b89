package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/logging"
	"fitness-payments-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// CheckOutcome is what a status check tells the caller to do next.
type CheckOutcome string

const (
	OutcomeProcessing CheckOutcome = "processing"  // provider still waiting for the buyer
	OutcomeRetryLater CheckOutcome = "retry_later" // provider answer unknown; nothing changed
	OutcomeCompleted  CheckOutcome = "completed"
	OutcomeFailed     CheckOutcome = "failed"
	OutcomeExpired    CheckOutcome = "expired"
)

// StatusReport describes a payment after a check or settle attempt.
// AlreadySettled is set when another caller had moved the payment out of
// pending first; CreditPending when it is completed but not yet credited.
type StatusReport struct {
	Outcome        CheckOutcome
	Payment        *model.Payment
	Package        *model.Package
	AlreadySettled bool
	CreditPending  bool
}

// CallbackEvent is a verified gateway callback. Amount is zero when the
// provider did not send one.
type CallbackEvent struct {
	OrderID  string
	Status   adapter.GatewayStatus
	Amount   decimal.Decimal
	Currency string
}

// SweepResult summarises one ReconcilePending pass.
type SweepResult struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
}

// PaymentNotifier is told about payments completed outside a user's own
// request (poller, webhook), so the buyer can be messaged.
type PaymentNotifier interface {
	OnPaymentCompleted(ctx context.Context, user *model.User, pkg *model.Package, p *model.Payment)
}

// TokenOpener decrypts the backend token stored on a user row.
type TokenOpener interface {
	Open(sealed, owner string) (string, error)
}

type PaymentUseCase interface {
	// StartPurchase creates a pending payment and returns the checkout URL.
	StartPurchase(ctx context.Context, tgID int64, packageID string) (*model.Payment, string, error)
	// CheckStatus is the buyer's "check payment" action for their own order.
	CheckStatus(ctx context.Context, tgID int64, orderID string) (StatusReport, error)
	// Settle completes a pending payment that the provider confirmed and credits it.
	Settle(ctx context.Context, orderID string) (StatusReport, error)
	// ExpireStale moves pending payments older than the expiry window to expired.
	ExpireStale(ctx context.Context) (int, error)
	// PendingPayments lazily yields pending payments young enough to be checked.
	PendingPayments(ctx context.Context) iter.Seq2[*model.Payment, error]
	// ReconcilePending checks each young pending payment under its own timeout.
	ReconcilePending(ctx context.Context, perPayment time.Duration) (SweepResult, error)
	HandleCallback(ctx context.Context, ev CallbackEvent) (StatusReport, error)
	// RetryCredit re-runs the ledger credit of a dangling payment.
	RetryCredit(ctx context.Context, orderID string) (StatusReport, error)
	ListDanglingCredits(ctx context.Context, limit int) ([]*model.Payment, error)
	ListForUser(ctx context.Context, tgID int64, limit int) ([]*model.Payment, error)
}

// PaymentConfig tunes the engine. Zero values fall back to defaults.
type PaymentConfig struct {
	Expiry         time.Duration // pending payments older than this are expired
	MinPendingAge  time.Duration // younger payments are skipped by the sweep
	GatewayTimeout time.Duration
	LedgerTimeout  time.Duration
	// StaleCreditAfter is how long a payment may sit in crediting before it
	// is reported as a dangling credit. It must exceed LedgerTimeout.
	StaleCreditAfter time.Duration
	BatchSize        int
	BalanceSource    string // "source" sent with absolute balance grants
	Now              func() time.Time
}

func (c *PaymentConfig) withDefaults() {
	if c.Expiry <= 0 {
		c.Expiry = 24 * time.Hour
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 15 * time.Second
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 30 * time.Second
	}
	if c.StaleCreditAfter <= c.LedgerTimeout {
		c.StaleCreditAfter = 2 * c.LedgerTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BalanceSource == "" {
		c.BalanceSource = "purchase"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type checkSource string

const (
	sourceUser     checkSource = "user"
	sourcePoller   checkSource = "poller"
	sourceCallback checkSource = "callback"
)

type paymentUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	packages PackageUseCase
	gateway  adapter.PaymentGateway
	ledger   adapter.BackendLedger
	locker   CreditLocker
	tokens   TokenOpener
	notifier PaymentNotifier
	refs     repository.ReferralRepository
	cfg      PaymentConfig
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	packages PackageUseCase,
	gateway adapter.PaymentGateway,
	ledger adapter.BackendLedger,
	locker CreditLocker,
	tokens TokenOpener,
	notifier PaymentNotifier,
	refs repository.ReferralRepository,
	cfg PaymentConfig,
	logger *zerolog.Logger,
) *paymentUC {
	cfg.withDefaults()
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &paymentUC{
		payments: payments,
		users:    users,
		packages: packages,
		gateway:  gateway,
		ledger:   ledger,
		locker:   locker,
		tokens:   tokens,
		notifier: notifier,
		refs:     refs,
		cfg:      cfg,
		log:      logger,
	}
}

func (u *paymentUC) StartPurchase(ctx context.Context, tgID int64, packageID string) (*model.Payment, string, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartPurchase")()

	pkg, err := u.packages.Get(packageID)
	if err != nil {
		return nil, "", err
	}
	user, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", domain.ErrAccountNotLinked
		}
		return nil, "", err
	}
	if !user.IsLinked() {
		return nil, "", domain.ErrAccountNotLinked
	}

	p, err := model.NewPayment(user, pkg, u.cfg.Now())
	if err != nil {
		return nil, "", err
	}
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, "", fmt.Errorf("create payment: %w", err)
	}
	metrics.IncPayment(string(model.PaymentStatusPending))
	log := u.log.With().Str("order_id", p.OrderID).Int64("tg_id", tgID).Str("package_id", pkg.ID).Logger()

	gctx, cancel := context.WithTimeout(ctx, u.cfg.GatewayTimeout)
	co, err := u.gateway.CreateCheckout(gctx, adapter.CheckoutRequest{
		Amount:      p.Amount,
		Currency:    p.Currency,
		OrderID:     p.OrderID,
		Description: pkg.Name,
		BuyerRef:    strconv.FormatInt(tgID, 10),
	})
	cancel()
	if err != nil {
		// the provider never issued a checkout, so nothing can be paid against this order
		if terr := u.payments.Transition(context.WithoutCancel(ctx), repository.NoTX, p.OrderID, model.PaymentStatusFailed, u.cfg.Now()); terr != nil {
			log.Error().Err(terr).Msg("could not mark payment failed after checkout error")
		} else {
			metrics.IncPayment(string(model.PaymentStatusFailed))
		}
		log.Warn().Err(err).Msg("checkout creation failed")
		return nil, "", fmt.Errorf("create checkout: %w", err)
	}

	p.ProviderRef, p.CheckoutURL = co.ProviderRef, co.URL
	if err := u.payments.AttachCheckout(ctx, repository.NoTX, p.OrderID, co.ProviderRef, co.URL); err != nil {
		// the order id still identifies the checkout; callbacks and checks fall back to it
		log.Error().Err(err).Msg("attach checkout failed")
	}
	log.Info().Str("provider_ref", co.ProviderRef).Msg("checkout created")
	return p, co.URL, nil
}

func (u *paymentUC) CheckStatus(ctx context.Context, tgID int64, orderID string) (StatusReport, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CheckStatus")()

	p, err := u.payments.FindByOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		return StatusReport{}, err
	}
	if p.TelegramID != tgID {
		return StatusReport{}, domain.ErrNotFound
	}
	return u.check(ctx, p, sourceUser)
}

func (u *paymentUC) Settle(ctx context.Context, orderID string) (StatusReport, error) {
	p, err := u.payments.FindByOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		return StatusReport{}, err
	}
	return u.settle(ctx, p, sourceCallback)
}

func (u *paymentUC) ExpireStale(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ExpireStale")()

	cutoff := u.cfg.Now().Add(-u.cfg.Expiry)
	var (
		cursor  repository.PageCursor
		expired int
	)
	for {
		page, err := u.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, cursor, u.cfg.BatchSize)
		if err != nil {
			return expired, err
		}
		for _, p := range page {
			err := u.payments.Transition(ctx, repository.NoTX, p.OrderID, model.PaymentStatusExpired, u.cfg.Now())
			switch {
			case err == nil:
				expired++
				metrics.IncPayment(string(model.PaymentStatusExpired))
				u.log.Info().Str("order_id", p.OrderID).Time("created_at", p.CreatedAt).Msg("payment expired")
			case errors.Is(err, domain.ErrInvalidTransition):
				// settled concurrently
			default:
				return expired, err
			}
		}
		if len(page) < u.cfg.BatchSize {
			return expired, nil
		}
		cursor = repository.CursorOf(page[len(page)-1])
	}
}

func (u *paymentUC) PendingPayments(ctx context.Context) iter.Seq2[*model.Payment, error] {
	return func(yield func(*model.Payment, error) bool) {
		createdAfter := u.cfg.Now().Add(-u.cfg.Expiry)
		var cursor repository.PageCursor
		for {
			page, err := u.payments.ListPending(ctx, repository.NoTX, createdAfter, cursor, u.cfg.BatchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < u.cfg.BatchSize {
				return
			}
			cursor = repository.CursorOf(page[len(page)-1])
		}
	}
}

func (u *paymentUC) ReconcilePending(ctx context.Context, perPayment time.Duration) (SweepResult, error) {
	var res SweepResult
	for p, err := range u.PendingPayments(ctx) {
		if err != nil {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if u.cfg.MinPendingAge > 0 && u.cfg.Now().Sub(p.CreatedAt) < u.cfg.MinPendingAge {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, perPayment)
		rep, err := u.check(pctx, p, sourcePoller)
		cancel()

		res.Checked++
		if err != nil {
			res.Errors++
			u.log.Warn().Err(err).Str("order_id", p.OrderID).Msg("reconcile payment failed")
			continue
		}
		switch rep.Outcome {
		case OutcomeCompleted:
			if !rep.AlreadySettled {
				res.Completed++
			}
		case OutcomeFailed:
			res.Failed++
		}
	}
	return res, nil
}

func (u *paymentUC) HandleCallback(ctx context.Context, ev CallbackEvent) (StatusReport, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleCallback")()

	p, err := u.payments.FindByOrderID(ctx, repository.NoTX, ev.OrderID)
	if err != nil {
		return StatusReport{}, err
	}
	log := u.log.With().Str("order_id", p.OrderID).Str("callback_status", string(ev.Status)).Logger()

	switch ev.Status {
	case adapter.GatewayPaid:
		if !ev.Amount.IsZero() && (!ev.Amount.Equal(p.Amount) || !strings.EqualFold(ev.Currency, p.Currency)) {
			log.Warn().
				Str("expected", p.Amount.String()+" "+p.Currency).
				Str("got", ev.Amount.String()+" "+ev.Currency).
				Msg("callback amount mismatch; ignored")
			return u.report(p, false), domain.ErrAmountMismatch
		}
		return u.settle(ctx, p, sourceCallback)
	case adapter.GatewayFailed:
		return u.fail(ctx, p)
	default:
		// pending or unrecognised: ask the provider directly
		return u.check(ctx, p, sourceCallback)
	}
}

func (u *paymentUC) RetryCredit(ctx context.Context, orderID string) (StatusReport, error) {
	p, err := u.payments.FindByOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		return StatusReport{}, err
	}
	if p.Status != model.PaymentStatusCompleted {
		return u.report(p, true), domain.ErrCreditNotRetryable
	}
	var ok bool
	switch p.CreditState {
	case model.CreditFailed:
		ok, err = u.payments.SetCreditState(ctx, repository.NoTX, orderID, model.CreditFailed, model.CreditCrediting, p.CreditError)
	case model.CreditCrediting:
		// the age guard keeps a credit that is still running out of reach
		ok, err = u.payments.ReclaimStaleCredit(ctx, repository.NoTX, orderID, u.staleCreditBefore(), u.cfg.Now())
	}
	if err != nil {
		return StatusReport{}, err
	}
	if !ok {
		return u.report(p, true), domain.ErrCreditNotRetryable
	}
	if p.CreditState == model.CreditCrediting {
		u.log.Warn().Str("order_id", orderID).Time("updated_at", p.UpdatedAt).
			Msg("retrying a credit whose ledger outcome was never recorded")
	}
	p.CreditState = model.CreditCrediting
	metrics.IncCredit("retried")
	u.log.Info().Str("order_id", orderID).Str("previous_error", p.CreditError).Msg("retrying dangling credit")

	u.credit(ctx, p)
	return u.report(p, true), nil
}

func (u *paymentUC) ListDanglingCredits(ctx context.Context, limit int) ([]*model.Payment, error) {
	return u.payments.ListDangling(ctx, repository.NoTX, u.staleCreditBefore(), limit)
}

// staleCreditBefore is the updated_at bound under which a crediting payment
// no longer has a live credit behind it.
func (u *paymentUC) staleCreditBefore() time.Time {
	return u.cfg.Now().Add(-u.cfg.StaleCreditAfter)
}

func (u *paymentUC) ListForUser(ctx context.Context, tgID int64, limit int) ([]*model.Payment, error) {
	user, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return nil, err
	}
	return u.payments.ListByUser(ctx, repository.NoTX, user.ID, limit)
}

// check is the shared status check. Terminal payments are reported without
// touching the gateway, so repeated checks are idempotent.
func (u *paymentUC) check(ctx context.Context, p *model.Payment, src checkSource) (rep StatusReport, err error) {
	defer func() {
		if err == nil {
			metrics.IncStatusCheck(string(src), string(rep.Outcome))
		}
	}()

	if p.Status.IsTerminal() {
		return u.report(p, true), nil
	}
	if p.ExpiredAt(u.cfg.Now(), u.cfg.Expiry) {
		return u.expire(ctx, p)
	}

	ref := p.ProviderRef
	if ref == "" {
		ref = p.OrderID
	}
	gctx, cancel := context.WithTimeout(ctx, u.cfg.GatewayTimeout)
	st, gerr := u.gateway.GetStatus(gctx, ref)
	cancel()

	switch {
	case gerr != nil || st == adapter.GatewayUnknown:
		u.log.Warn().Err(gerr).Str("order_id", p.OrderID).Str("source", string(src)).Msg("gateway status unknown")
		rep := u.report(p, false)
		rep.Outcome = OutcomeRetryLater
		return rep, nil
	case st == adapter.GatewayPending:
		return u.report(p, false), nil
	case st == adapter.GatewayFailed:
		return u.fail(ctx, p)
	default:
		return u.settle(ctx, p, src)
	}
}

// settle is the single path from pending to completed. The conditional
// transition decides the winner; only the winner touches the ledger.
func (u *paymentUC) settle(ctx context.Context, p *model.Payment, src checkSource) (StatusReport, error) {
	if p.Status.IsTerminal() {
		return u.report(p, true), nil
	}
	now := u.cfg.Now()
	if p.ExpiredAt(now, u.cfg.Expiry) {
		return u.expire(ctx, p)
	}

	err := u.payments.Transition(ctx, repository.NoTX, p.OrderID, model.PaymentStatusCompleted, now)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return u.reread(ctx, p.OrderID)
	}
	if err != nil {
		// the write may have committed before the error came back; if so the
		// row stays crediting and shows up as dangling once stale
		metrics.IncCredit("unknown")
		u.log.Error().
			Err(err).
			Str("alert", "dangling_credit").
			Str("order_id", p.OrderID).
			Str("source", string(src)).
			Int64("tg_id", p.TelegramID).
			Msg("completion outcome unknown; payment may be completed without credit")
		return StatusReport{}, err
	}

	p.Status = model.PaymentStatusCompleted
	p.CompletedAt = &now
	p.CreditState = model.CreditCrediting
	metrics.IncPayment(string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	u.log.Info().Str("order_id", p.OrderID).Str("source", string(src)).Msg("payment completed")

	user := u.credit(ctx, p)
	u.trackReferralPurchase(ctx, user, p)

	rep := u.report(p, false)
	if src != sourceUser && u.notifier != nil && user != nil {
		u.notifier.OnPaymentCompleted(context.WithoutCancel(ctx), user, rep.Package, p)
	}
	return rep, nil
}

// credit applies the ledger side of a completed payment whose credit state is
// crediting. Failures leave the payment completed and mark the credit failed.
// It returns the owner when it could be loaded.
func (u *paymentUC) credit(ctx context.Context, p *model.Payment) *model.User {
	// the transition already happened; finish crediting even if the caller gave up
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.LedgerTimeout)
	defer cancel()

	user, err := u.users.FindByID(cctx, repository.NoTX, p.UserID)
	if err == nil {
		err = u.grant(cctx, user, p)
	}
	if err != nil {
		u.markDangling(cctx, p, err)
		return user
	}

	ok, serr := u.payments.SetCreditState(cctx, repository.NoTX, p.OrderID, model.CreditCrediting, model.CreditCredited, "")
	if serr != nil || !ok {
		u.log.Error().Err(serr).Str("order_id", p.OrderID).Msg("ledger credited but credit state not recorded")
	}
	p.CreditState = model.CreditCredited
	p.CreditError = ""
	metrics.IncCredit("credited")
	return user
}

// trackReferralPurchase counts a completed payment against the link the buyer
// arrived with. Only the settle winner calls it, so each payment counts once.
func (u *paymentUC) trackReferralPurchase(ctx context.Context, user *model.User, p *model.Payment) {
	if u.refs == nil || user == nil || user.ReferredBy == "" {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.LedgerTimeout)
	defer cancel()
	if _, err := u.refs.RecordPurchase(rctx, repository.NoTX, user.ReferredBy); err != nil {
		u.log.Warn().Err(err).Str("order_id", p.OrderID).Str("ref_code", user.ReferredBy).Msg("record referral purchase failed")
		return
	}
	metrics.IncReferral("purchase")
}

func (u *paymentUC) grant(ctx context.Context, user *model.User, p *model.Payment) error {
	if !user.IsLinked() {
		return domain.ErrAccountNotLinked
	}
	token, err := u.tokens.Open(user.BackendToken, user.ID)
	if err != nil {
		return fmt.Errorf("open backend token: %w", err)
	}

	if p.SubscriptionGrant() {
		_, err := u.ledger.GrantSubscription(ctx, token, p.Coins, p.DurationDays, p.Amount)
		return err
	}

	// absolute set: read, add and write under the per-user lock
	unlock, err := u.locker.Lock(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("credit lock: %w", err)
	}
	defer unlock()
	bal, err := u.ledger.GetBalance(ctx, token)
	if err != nil {
		return err
	}
	_, err = u.ledger.GrantBalance(ctx, token, bal.Balance+p.Coins, u.cfg.BalanceSource)
	return err
}

func (u *paymentUC) markDangling(ctx context.Context, p *model.Payment, cause error) {
	msg := cause.Error()
	if ok, err := u.payments.SetCreditState(ctx, repository.NoTX, p.OrderID, model.CreditCrediting, model.CreditFailed, msg); err != nil || !ok {
		u.log.Error().Err(err).Str("order_id", p.OrderID).Msg("could not record failed credit")
	}
	p.CreditState = model.CreditFailed
	p.CreditError = msg
	metrics.IncCredit("failed")
	metrics.IncDanglingCredit()
	u.log.Error().
		Err(cause).
		Str("alert", "dangling_credit").
		Str("order_id", p.OrderID).
		Str("user_id", p.UserID).
		Int64("tg_id", p.TelegramID).
		Int64("coins", p.Coins).
		Int("days", p.DurationDays).
		Str("amount", p.Amount.String()+" "+p.Currency).
		Msg("payment completed but backend credit failed")
}

func (u *paymentUC) fail(ctx context.Context, p *model.Payment) (StatusReport, error) {
	if p.Status.IsTerminal() {
		return u.report(p, true), nil
	}
	err := u.payments.Transition(ctx, repository.NoTX, p.OrderID, model.PaymentStatusFailed, u.cfg.Now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		return u.reread(ctx, p.OrderID)
	}
	if err != nil {
		return StatusReport{}, err
	}
	p.Status = model.PaymentStatusFailed
	metrics.IncPayment(string(model.PaymentStatusFailed))
	u.log.Info().Str("order_id", p.OrderID).Msg("payment failed at provider")
	return u.report(p, false), nil
}

func (u *paymentUC) expire(ctx context.Context, p *model.Payment) (StatusReport, error) {
	err := u.payments.Transition(ctx, repository.NoTX, p.OrderID, model.PaymentStatusExpired, u.cfg.Now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		return u.reread(ctx, p.OrderID)
	}
	if err != nil {
		return StatusReport{}, err
	}
	p.Status = model.PaymentStatusExpired
	metrics.IncPayment(string(model.PaymentStatusExpired))
	u.log.Info().Str("order_id", p.OrderID).Msg("payment expired on check")
	return u.report(p, false), nil
}

// reread reports the state written by whoever won the transition.
func (u *paymentUC) reread(ctx context.Context, orderID string) (StatusReport, error) {
	cur, err := u.payments.FindByOrderID(context.WithoutCancel(ctx), repository.NoTX, orderID)
	if err != nil {
		return StatusReport{}, err
	}
	return u.report(cur, true), nil
}

func (u *paymentUC) report(p *model.Payment, settledBefore bool) StatusReport {
	rep := StatusReport{Payment: p}
	if pkg, err := u.packages.Get(p.PackageID); err == nil {
		rep.Package = pkg
	} else {
		// package removed from config since purchase; rebuild from the payment row
		rep.Package = &model.Package{ID: p.PackageID, Name: p.Meta["package_name"], Coins: p.Coins, Days: p.DurationDays, Price: p.Amount, Currency: p.Currency}
	}
	switch p.Status {
	case model.PaymentStatusCompleted:
		rep.Outcome = OutcomeCompleted
		rep.AlreadySettled = settledBefore
		rep.CreditPending = p.CreditState != model.CreditCredited
	case model.PaymentStatusFailed:
		rep.Outcome = OutcomeFailed
		rep.AlreadySettled = settledBefore
	case model.PaymentStatusExpired:
		rep.Outcome = OutcomeExpired
		rep.AlreadySettled = settledBefore
	default:
		rep.Outcome = OutcomeProcessing
	}
	return rep
}
