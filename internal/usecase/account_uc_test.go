//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/usecase"
)

type accountTestDeps struct {
	users  *MockUserRepo
	states *MockLinkStateRepo
	ledger *MockLedger
	locker usecase.CreditLocker
	uc     usecase.AccountUseCase
}

func newAccountDeps() *accountTestDeps {
	d := &accountTestDeps{users: NewMockUserRepo(), states: NewMockLinkStateRepo(), ledger: NewMockLedger(), locker: usecase.NewLocalLocker()}
	d.uc = usecase.NewAccountUseCase(d.users, d.states, d.ledger, plainSealer{}, d.locker, time.Second, newTestLogger())
	return d
}

func TestAccountUseCase_LinkFlow(t *testing.T) {
	ctx := context.Background()
	const tg int64 = 100

	t.Run("should link the account after email and code", func(t *testing.T) {
		// --- Arrange ---
		d := newAccountDeps()
		u, _ := model.NewUser("", tg, "runner")
		_ = d.users.Save(ctx, nil, u)
		var sentTo string
		d.ledger.SendCodeFunc = func(ctx context.Context, email string) error { sentTo = email; return nil }

		// --- Act ---
		if err := d.uc.BeginLink(ctx, tg); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if err := d.uc.SubmitEmail(ctx, tg, "  Runner@Example.com "); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		step, _ := d.uc.LinkStep(ctx, tg)
		if step != repository.LinkAwaitingCode {
			t.Fatalf("expected awaiting_code, got %q", step)
		}
		linked, err := d.uc.SubmitCode(ctx, tg, "123456")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if sentTo != "runner@example.com" {
			t.Errorf("expected normalized email, got %q", sentTo)
		}
		if !linked.IsLinked() || linked.BackendUserID != "backend-1" {
			t.Errorf("user not linked: %+v", linked)
		}
		stored, _ := d.users.FindByTelegramID(ctx, nil, tg)
		if stored.BackendToken == "tok-runner@example.com" {
			t.Error("backend token must be stored sealed")
		}
		if step, _ := d.uc.LinkStep(ctx, tg); step != repository.LinkIdle {
			t.Errorf("expected conversation to be cleared, got %q", step)
		}
	})

	t.Run("should keep asking on an invalid email", func(t *testing.T) {
		d := newAccountDeps()
		u, _ := model.NewUser("", tg, "runner")
		_ = d.users.Save(ctx, nil, u)
		_ = d.uc.BeginLink(ctx, tg)

		err := d.uc.SubmitEmail(ctx, tg, "not-an-email")
		if !errors.Is(err, domain.ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail, got %v", err)
		}
		if step, _ := d.uc.LinkStep(ctx, tg); step != repository.LinkAwaitingEmail {
			t.Errorf("expected awaiting_email, got %q", step)
		}
	})

	t.Run("should refuse a code without a conversation", func(t *testing.T) {
		d := newAccountDeps()
		if _, err := d.uc.SubmitCode(ctx, tg, "1"); !errors.Is(err, domain.ErrLinkNotStarted) {
			t.Errorf("expected ErrLinkNotStarted, got %v", err)
		}
		if err := d.uc.SubmitEmail(ctx, tg, "a@b.co"); !errors.Is(err, domain.ErrLinkNotStarted) {
			t.Errorf("expected ErrLinkNotStarted, got %v", err)
		}
	})

	t.Run("should give up after too many wrong codes", func(t *testing.T) {
		// --- Arrange ---
		d := newAccountDeps()
		u, _ := model.NewUser("", tg, "runner")
		_ = d.users.Save(ctx, nil, u)
		_ = d.states.Set(ctx, tg, &repository.LinkState{Step: repository.LinkAwaitingCode, Email: "a@b.co"})
		d.ledger.ConfirmEmailFunc = func(ctx context.Context, email, code string) (adapter.AuthResult, error) {
			return adapter.AuthResult{}, &domain.HTTPError{Service: "backend", StatusCode: 400, Kind: domain.ErrBackendRejected}
		}

		// --- Act ---
		var err error
		for i := 0; i < 5; i++ {
			_, err = d.uc.SubmitCode(ctx, tg, "000000")
		}

		// --- Assert ---
		if !errors.Is(err, domain.ErrTooManyAttempts) {
			t.Fatalf("expected ErrTooManyAttempts on the fifth attempt, got %v", err)
		}
		if step, _ := d.uc.LinkStep(ctx, tg); step != repository.LinkIdle {
			t.Errorf("expected conversation to be cleared, got %q", step)
		}
	})

	t.Run("should refuse to relink a linked account", func(t *testing.T) {
		d := newAccountDeps()
		seedLinkedUser(d.users, tg)
		if err := d.uc.BeginLink(ctx, tg); !errors.Is(err, domain.ErrAlreadyLinked) {
			t.Errorf("expected ErrAlreadyLinked, got %v", err)
		}
	})
}

func TestAccountUseCase_Balance(t *testing.T) {
	ctx := context.Background()
	d := newAccountDeps()
	seedLinkedUser(d.users, 5)
	_, _ = d.ledger.GrantBalance(ctx, tokenFor(5), 42, "seed")

	bal, err := d.uc.Balance(ctx, 5)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if bal.Balance != 42 {
		t.Errorf("expected 42, got %d", bal.Balance)
	}
	if _, err := d.uc.Balance(ctx, 6); !errors.Is(err, domain.ErrAccountNotLinked) {
		t.Errorf("expected ErrAccountNotLinked, got %v", err)
	}
}

func TestAccountUseCase_SetBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("should overwrite the balance as an admin write", func(t *testing.T) {
		// --- Arrange ---
		d := newAccountDeps()
		seedLinkedUser(d.users, 5)
		_, _ = d.ledger.GrantBalance(ctx, tokenFor(5), 42, "seed")
		var source string
		d.ledger.GrantBalanceFunc = func(ctx context.Context, token string, newTotal int64, src string) (adapter.BalanceResult, error) {
			source = src
			return adapter.BalanceResult{Success: true, NewBalance: newTotal}, nil
		}

		// --- Act ---
		res, err := d.uc.SetBalance(ctx, 5, 7)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.NewBalance != 7 || source != "admin" {
			t.Errorf("expected balance 7 from source admin, got %d from %q", res.NewBalance, source)
		}
	})

	t.Run("should reject negative coins and unlinked users", func(t *testing.T) {
		d := newAccountDeps()
		seedLinkedUser(d.users, 5)
		if _, err := d.uc.SetBalance(ctx, 5, -1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := d.uc.SetBalance(ctx, 6, 10); !errors.Is(err, domain.ErrAccountNotLinked) {
			t.Errorf("expected ErrAccountNotLinked, got %v", err)
		}
		if n := d.ledger.GrantBalanceCalls.Load(); n != 0 {
			t.Errorf("expected no ledger writes, got %d", n)
		}
	})

	t.Run("should wait for a running purchase credit of the same user", func(t *testing.T) {
		// --- Arrange ---
		d := newAccountDeps()
		u := seedLinkedUser(d.users, 5)
		unlock, err := d.locker.Lock(ctx, u.ID)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		done := make(chan error, 1)

		// --- Act ---
		go func() {
			_, err := d.uc.SetBalance(ctx, 5, 100)
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)
		writesWhileHeld := d.ledger.GrantBalanceCalls.Load()
		unlock()

		// --- Assert ---
		if err := <-done; err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if writesWhileHeld != 0 {
			t.Error("expected no balance write while the lock was held")
		}
		if got := d.ledger.Balance(tokenFor(5)); got != 100 {
			t.Errorf("expected balance 100, got %d", got)
		}
	})
}
