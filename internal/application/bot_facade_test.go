//go:build !integration

package application_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"fitness-payments-bot/internal/application"
	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/i18n"
	"fitness-payments-bot/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTranslator(t *testing.T) *i18n.Translator {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	return tr
}

// mockPaymentUC overrides only what a test sets; the embedded interface
// panics on anything else.
type mockPaymentUC struct {
	usecase.PaymentUseCase
	StartFunc    func(ctx context.Context, tgID int64, pkgID string) (*model.Payment, string, error)
	CheckFunc    func(ctx context.Context, tgID int64, orderID string) (usecase.StatusReport, error)
	RetryFunc    func(ctx context.Context, orderID string) (usecase.StatusReport, error)
	DanglingFunc func(ctx context.Context, limit int) ([]*model.Payment, error)
}

func (m *mockPaymentUC) StartPurchase(ctx context.Context, tgID int64, pkgID string) (*model.Payment, string, error) {
	return m.StartFunc(ctx, tgID, pkgID)
}

func (m *mockPaymentUC) CheckStatus(ctx context.Context, tgID int64, orderID string) (usecase.StatusReport, error) {
	return m.CheckFunc(ctx, tgID, orderID)
}

func (m *mockPaymentUC) RetryCredit(ctx context.Context, orderID string) (usecase.StatusReport, error) {
	return m.RetryFunc(ctx, orderID)
}

func (m *mockPaymentUC) ListDanglingCredits(ctx context.Context, limit int) ([]*model.Payment, error) {
	return m.DanglingFunc(ctx, limit)
}

type mockAccountUC struct {
	usecase.AccountUseCase
	Step           repository.LinkStep
	CodeFunc       func(ctx context.Context, tgID int64, code string) (*model.User, error)
	SetBalanceFunc func(ctx context.Context, tgID int64, coins int64) (adapter.BalanceResult, error)
	BalanceErr     error
}

func (m *mockAccountUC) LinkStep(context.Context, int64) (repository.LinkStep, error) {
	return m.Step, nil
}

func (m *mockAccountUC) SubmitCode(ctx context.Context, tgID int64, code string) (*model.User, error) {
	return m.CodeFunc(ctx, tgID, code)
}

func (m *mockAccountUC) SetBalance(ctx context.Context, tgID int64, coins int64) (adapter.BalanceResult, error) {
	return m.SetBalanceFunc(ctx, tgID, coins)
}

func (m *mockAccountUC) Balance(context.Context, int64) (adapter.Balance, error) {
	if m.BalanceErr != nil {
		return adapter.Balance{}, m.BalanceErr
	}
	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	return adapter.Balance{Balance: 120, HasActiveSubscription: true, SubscriptionExpiresAt: &exp}, nil
}

type mockStatsUC struct {
	usecase.StatsUseCase
	stats *usecase.Stats
}

func (m *mockStatsUC) Snapshot(context.Context) (*usecase.Stats, error) { return m.stats, nil }

type mockUserUC struct {
	usecase.UserUseCase
	banned map[int64]bool
}

func (m *mockUserUC) SetBanned(_ context.Context, tgID int64, banned bool) (*model.User, error) {
	switch tgID {
	case 1:
		return nil, domain.ErrInvalidArgument
	case 404:
		return nil, domain.ErrNotFound
	}
	m.banned[tgID] = banned
	return &model.User{TelegramID: tgID, IsBanned: banned}, nil
}

func (m *mockUserUC) IsBanned(_ context.Context, tgID int64) (bool, error) {
	if tgID == 500 {
		return true, errors.New("db down")
	}
	return m.banned[tgID], nil
}

type mockReferralUC struct {
	links []*model.ReferralLink
}

func (m *mockReferralUC) Create(_ context.Context, name string, creator int64) (*model.ReferralLink, error) {
	l, err := model.NewReferralLink(name, creator)
	if err != nil {
		return nil, err
	}
	l.Code = "ab12cd34"
	m.links = append(m.links, l)
	return l, nil
}

func (m *mockReferralUC) ListActive(context.Context, int) ([]*model.ReferralLink, error) {
	return m.links, nil
}

type staticPackages struct{}

func (staticPackages) List() []*model.Package {
	sub, _ := model.NewPackage("monthly", "Monthly", 100, 30, decimal.NewFromInt(2), "EUR")
	coins, _ := model.NewPackage("coins50", "50 coins", 50, 0, decimal.RequireFromString("0.99"), "EUR")
	return []*model.Package{sub, coins}
}

func (p staticPackages) Get(id string) (*model.Package, error) {
	for _, pkg := range p.List() {
		if pkg.ID == id {
			return pkg, nil
		}
	}
	return nil, domain.ErrPackageNotFound
}

func newFacade(t *testing.T, payments usecase.PaymentUseCase, accounts usecase.AccountUseCase, stats usecase.StatsUseCase) (*application.BotFacade, *i18n.Translator) {
	tr := newTranslator(t)
	settings := usecase.NewSettingsService(50, newTestLogger())
	return application.NewBotFacade(nil, staticPackages{}, payments, accounts, stats, settings, nil, tr, newTestLogger()), tr
}

func TestHandlePackages(t *testing.T) {
	f, tr := newFacade(t, nil, nil, nil)

	rep := f.HandlePackages()

	if !strings.Contains(rep.Text, tr.T("package_line_subscription", "Monthly", int64(100), 30, "2.00 EUR")) {
		t.Errorf("subscription line missing from %q", rep.Text)
	}
	if !strings.Contains(rep.Text, tr.T("package_line_coins", "50 coins", int64(50), "0.99 EUR")) {
		t.Errorf("coins line missing from %q", rep.Text)
	}
	if len(rep.Buttons) != 3 || rep.Buttons[0][0].Data != "buy:monthly" || rep.Buttons[2][0].Data != "cmd:menu" {
		t.Errorf("unexpected buttons %+v", rep.Buttons)
	}
}

func TestHandleBuy(t *testing.T) {
	ctx := context.Background()

	t.Run("should return pay and check buttons", func(t *testing.T) {
		// --- Arrange ---
		pay := &mockPaymentUC{StartFunc: func(ctx context.Context, tgID int64, pkgID string) (*model.Payment, string, error) {
			return &model.Payment{OrderID: "01ORDER", PackageID: pkgID, Amount: decimal.NewFromInt(2), Currency: "EUR"}, "https://pay.example/x", nil
		}}
		f, tr := newFacade(t, pay, nil, nil)

		// --- Act ---
		rep, err := f.HandleBuy(ctx, 1, "monthly")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Text != tr.T("checkout_created", "Monthly", "2.00 EUR", "01ORDER") {
			t.Errorf("unexpected text %q", rep.Text)
		}
		if rep.Buttons[0][0].URL != "https://pay.example/x" || rep.Buttons[1][0].Data != "chk:01ORDER" {
			t.Errorf("unexpected buttons %+v", rep.Buttons)
		}
	})

	t.Run("should ask an unlinked user to link first", func(t *testing.T) {
		pay := &mockPaymentUC{StartFunc: func(context.Context, int64, string) (*model.Payment, string, error) {
			return nil, "", domain.ErrAccountNotLinked
		}}
		f, tr := newFacade(t, pay, nil, nil)

		rep, err := f.HandleBuy(ctx, 1, "monthly")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Text != tr.T("link_required") || rep.Buttons[0][0].Data != "cmd:link" {
			t.Errorf("unexpected reply %+v", rep)
		}
	})

	t.Run("should explain a gateway outage", func(t *testing.T) {
		pay := &mockPaymentUC{StartFunc: func(context.Context, int64, string) (*model.Payment, string, error) {
			return nil, "", &domain.HTTPError{Service: "gateway", Kind: domain.ErrGatewayUnavailable, Cause: errors.New("dial tcp")}
		}}
		f, tr := newFacade(t, pay, nil, nil)

		rep, err := f.HandleBuy(ctx, 1, "monthly")
		if err != nil || rep.Text != tr.T("gateway_unavailable") {
			t.Errorf("unexpected reply %q (%v)", rep.Text, err)
		}
	})

	t.Run("should surface unexpected errors", func(t *testing.T) {
		dbErr := errors.New("db down")
		pay := &mockPaymentUC{StartFunc: func(context.Context, int64, string) (*model.Payment, string, error) { return nil, "", dbErr }}
		f, _ := newFacade(t, pay, nil, nil)

		if _, err := f.HandleBuy(ctx, 1, "monthly"); !errors.Is(err, dbErr) {
			t.Errorf("expected %v, got %v", dbErr, err)
		}
	})
}

func TestRenderStatus(t *testing.T) {
	f, tr := newFacade(t, nil, nil, nil)
	pkg, _ := staticPackages{}.Get("monthly")
	base := func(status model.PaymentStatus, credit model.CreditState) *model.Payment {
		return &model.Payment{OrderID: "O1", PackageID: "monthly", Status: status, CreditState: credit, Coins: 100, DurationDays: 30, CheckoutURL: "https://pay.example/O1"}
	}

	cases := []struct {
		name string
		rep  usecase.StatusReport
		want string
	}{
		{"processing", usecase.StatusReport{Outcome: usecase.OutcomeProcessing, Payment: base(model.PaymentStatusPending, model.CreditNone)}, tr.T("payment_processing", "O1")},
		{"retry later", usecase.StatusReport{Outcome: usecase.OutcomeRetryLater, Payment: base(model.PaymentStatusPending, model.CreditNone)}, tr.T("payment_retry_later")},
		{"completed", usecase.StatusReport{Outcome: usecase.OutcomeCompleted, Package: pkg, Payment: base(model.PaymentStatusCompleted, model.CreditCredited)}, tr.T("payment_completed_subscription", "Monthly", int64(100), 30)},
		{"credit pending", usecase.StatusReport{Outcome: usecase.OutcomeCompleted, Package: pkg, CreditPending: true, Payment: base(model.PaymentStatusCompleted, model.CreditFailed)}, tr.T("payment_completed_credit_pending", "O1")},
		{"failed", usecase.StatusReport{Outcome: usecase.OutcomeFailed, Payment: base(model.PaymentStatusFailed, model.CreditNone)}, tr.T("payment_failed", "O1")},
		{"expired", usecase.StatusReport{Outcome: usecase.OutcomeExpired, Payment: base(model.PaymentStatusExpired, model.CreditNone)}, tr.T("payment_expired", "O1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.RenderStatus(tc.rep).Text; got != tc.want {
				t.Errorf("wanted %q, got %q", tc.want, got)
			}
		})
	}

	t.Run("processing keeps the pay link", func(t *testing.T) {
		rep := f.RenderStatus(cases[0].rep)
		if len(rep.Buttons) != 2 || rep.Buttons[0][0].URL == "" || rep.Buttons[1][0].Data != "chk:O1" {
			t.Errorf("unexpected buttons %+v", rep.Buttons)
		}
	})
}

func TestHandleCheck_NotFound(t *testing.T) {
	pay := &mockPaymentUC{CheckFunc: func(context.Context, int64, string) (usecase.StatusReport, error) {
		return usecase.StatusReport{}, domain.ErrNotFound
	}}
	f, tr := newFacade(t, pay, nil, nil)

	rep, err := f.HandleCheck(context.Background(), 1, "X")
	if err != nil || rep.Text != tr.T("payment_not_found", "X") {
		t.Errorf("unexpected reply %q (%v)", rep.Text, err)
	}
}

func TestHandleText_CodeStep(t *testing.T) {
	ctx := context.Background()

	t.Run("should finish linking", func(t *testing.T) {
		acc := &mockAccountUC{Step: repository.LinkAwaitingCode, CodeFunc: func(context.Context, int64, string) (*model.User, error) {
			return &model.User{ID: "u", Email: "a@b.co"}, nil
		}}
		f, tr := newFacade(t, nil, acc, nil)

		rep, handled, err := f.HandleText(ctx, 1, " 123456 ")
		if err != nil || !handled {
			t.Fatalf("expected handled without error, got handled=%v err=%v", handled, err)
		}
		if rep.Text != tr.T("link_done", "a@b.co") {
			t.Errorf("unexpected text %q", rep.Text)
		}
	})

	t.Run("should map a wrong code and too many attempts", func(t *testing.T) {
		acc := &mockAccountUC{Step: repository.LinkAwaitingCode}
		f, tr := newFacade(t, nil, acc, nil)

		acc.CodeFunc = func(context.Context, int64, string) (*model.User, error) {
			return nil, &domain.HTTPError{Service: "backend", StatusCode: 400, Kind: domain.ErrBackendRejected}
		}
		rep, _, _ := f.HandleText(ctx, 1, "0")
		if rep.Text != tr.T("link_bad_code") {
			t.Errorf("unexpected text %q", rep.Text)
		}

		acc.CodeFunc = func(context.Context, int64, string) (*model.User, error) { return nil, domain.ErrTooManyAttempts }
		rep, _, _ = f.HandleText(ctx, 1, "0")
		if rep.Text != tr.T("link_too_many") {
			t.Errorf("unexpected text %q", rep.Text)
		}
	})

	t.Run("should ignore text when idle", func(t *testing.T) {
		f, _ := newFacade(t, nil, &mockAccountUC{}, nil)
		if _, handled, err := f.HandleText(ctx, 1, "hi"); handled || err != nil {
			t.Errorf("expected unhandled, got handled=%v err=%v", handled, err)
		}
	})
}

func TestHandleBalance(t *testing.T) {
	f, tr := newFacade(t, nil, &mockAccountUC{}, nil)
	rep, err := f.HandleBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := tr.T("balance", int64(120)) + "\n" + tr.T("balance_subscription", "2026-12-01")
	if rep.Text != want {
		t.Errorf("wanted %q, got %q", want, rep.Text)
	}

	f, tr = newFacade(t, nil, &mockAccountUC{BalanceErr: domain.ErrAccountNotLinked}, nil)
	rep, _ = f.HandleBalance(context.Background(), 1)
	if rep.Text != tr.T("link_required") {
		t.Errorf("unexpected text %q", rep.Text)
	}
}

func TestAdminHandlers(t *testing.T) {
	ctx := context.Background()

	t.Run("stats lists revenue per currency in order", func(t *testing.T) {
		st := &usecase.Stats{
			Users:       3,
			ActiveWeek:  2,
			RevenueWeek: map[string]decimal.Decimal{"USD": decimal.NewFromInt(1), "EUR": decimal.RequireFromString("2.5")},
			ByStatus:    map[model.PaymentStatus]int{model.PaymentStatusCompleted: 4},
			Dangling:    1,
		}
		f, tr := newFacade(t, nil, nil, &mockStatsUC{stats: st})

		rep, err := f.HandleAdminStats(ctx)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !strings.Contains(rep.Text, "2.50 EUR, 1.00 USD") {
			t.Errorf("revenue not sorted by currency: %q", rep.Text)
		}
		if !strings.Contains(rep.Text, tr.T("admin_stats_dangling", 1)) {
			t.Errorf("dangling count missing: %q", rep.Text)
		}
	})

	t.Run("retry credit maps the refusal", func(t *testing.T) {
		pay := &mockPaymentUC{RetryFunc: func(context.Context, string) (usecase.StatusReport, error) {
			return usecase.StatusReport{}, domain.ErrCreditNotRetryable
		}}
		f, tr := newFacade(t, pay, nil, nil)

		rep, err := f.HandleRetryCredit(ctx, "O1")
		if err != nil || rep.Text != tr.T("admin_retry_not_dangling", "O1") {
			t.Errorf("unexpected reply %q (%v)", rep.Text, err)
		}
		rep, _ = f.HandleRetryCredit(ctx, "")
		if rep.Text != tr.T("admin_retry_usage") {
			t.Errorf("unexpected reply %q", rep.Text)
		}
	})

	t.Run("set bonus validates input", func(t *testing.T) {
		f, tr := newFacade(t, nil, nil, nil)
		rep, _ := f.HandleSetBonus("-5")
		if rep.Text != tr.T("admin_bonus_usage") {
			t.Errorf("unexpected reply %q", rep.Text)
		}
		rep, _ = f.HandleSetBonus("abc")
		if rep.Text != tr.T("admin_bonus_usage") {
			t.Errorf("unexpected reply %q", rep.Text)
		}
		rep, _ = f.HandleSetBonus("")
		if rep.Text != tr.T("admin_bonus_current", int64(50)) {
			t.Errorf("unexpected reply %q", rep.Text)
		}
	})
}

func TestCompletionMessage(t *testing.T) {
	tr := newTranslator(t)
	p := &model.Payment{OrderID: "O", PackageID: "coins50", Coins: 50, CreditState: model.CreditCredited}

	if got := application.CompletionMessage(tr, nil, p); got != tr.T("payment_completed_coins", "coins50", int64(50)) {
		t.Errorf("unexpected message %q", got)
	}
	p.CreditState = model.CreditCrediting
	if got := application.CompletionMessage(tr, nil, p); got != tr.T("payment_completed_credit_pending", "O") {
		t.Errorf("unexpected message %q", got)
	}
}

func TestHandleSetCoins(t *testing.T) {
	ctx := context.Background()
	var gotTG, gotCoins int64
	accounts := &mockAccountUC{SetBalanceFunc: func(ctx context.Context, tgID int64, coins int64) (adapter.BalanceResult, error) {
		if tgID == 9 {
			return adapter.BalanceResult{}, domain.ErrAccountNotLinked
		}
		gotTG, gotCoins = tgID, coins
		return adapter.BalanceResult{Success: true, NewBalance: coins}, nil
	}}
	f, tr := newFacade(t, nil, accounts, nil)

	t.Run("should set the balance", func(t *testing.T) {
		rep, err := f.HandleSetCoins(ctx, "777 250")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if gotTG != 777 || gotCoins != 250 {
			t.Errorf("expected 250 coins for 777, got %d for %d", gotCoins, gotTG)
		}
		if rep.Text != tr.T("admin_coins_set", int64(777), int64(250)) {
			t.Errorf("unexpected reply %q", rep.Text)
		}
	})

	t.Run("should show usage for bad arguments", func(t *testing.T) {
		for _, args := range []string{"", "777", "777 -5", "abc 5", "1 2 3"} {
			rep, err := f.HandleSetCoins(ctx, args)
			if err != nil || rep.Text != tr.T("admin_coins_usage") {
				t.Errorf("args %q: unexpected reply %q (%v)", args, rep.Text, err)
			}
		}
	})

	t.Run("should explain an unlinked user", func(t *testing.T) {
		rep, err := f.HandleSetCoins(ctx, "9 10")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Text != tr.T("admin_coins_not_linked", int64(9)) {
			t.Errorf("unexpected reply %q", rep.Text)
		}
	})
}

func TestHandleBan(t *testing.T) {
	ctx := context.Background()
	f, tr := newFacade(t, nil, nil, nil)
	users := &mockUserUC{banned: map[int64]bool{}}
	f.UserUC = users

	rep, err := f.HandleBan(ctx, "42", true)
	if err != nil || rep.Text != tr.T("admin_banned", int64(42)) {
		t.Fatalf("unexpected ban reply %q (%v)", rep.Text, err)
	}
	if !f.Banned(ctx, 42) {
		t.Error("expected user 42 to be banned")
	}
	rep, _ = f.HandleBan(ctx, "42", false)
	if rep.Text != tr.T("admin_unbanned", int64(42)) || f.Banned(ctx, 42) {
		t.Errorf("expected user 42 unbanned, got %q", rep.Text)
	}

	cases := map[string]string{
		"x":   tr.T("admin_ban_usage"),
		"1":   tr.T("admin_ban_admin"),
		"404": tr.T("admin_user_not_found", int64(404)),
	}
	for arg, want := range cases {
		if rep, _ := f.HandleBan(ctx, arg, true); rep.Text != want {
			t.Errorf("arg %q: expected %q, got %q", arg, want, rep.Text)
		}
	}
	if f.Banned(ctx, 500) {
		t.Error("a failed lookup must not block the user")
	}
}

func TestHandleReferrals(t *testing.T) {
	ctx := context.Background()
	f, tr := newFacade(t, nil, nil, nil)
	refs := &mockReferralUC{}
	f.ReferralUC = refs
	f.BotUsername = "@fitness_bot"

	rep, _ := f.HandleReferrals(ctx)
	if rep.Text != tr.T("admin_ref_none") {
		t.Errorf("unexpected empty list reply %q", rep.Text)
	}

	rep, err := f.HandleRefCreate(ctx, 1, " Gym Moscow ")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if rep.Text != tr.T("admin_ref_created", "Gym Moscow", "https://t.me/fitness_bot?start=ab12cd34", "ab12cd34") {
		t.Errorf("unexpected create reply %q", rep.Text)
	}
	if rep, _ := f.HandleRefCreate(ctx, 1, "  "); rep.Text != tr.T("admin_ref_usage") {
		t.Errorf("expected usage for an empty name, got %q", rep.Text)
	}

	refs.links[0].Clicks, refs.links[0].Registrations, refs.links[0].Purchases = 5, 3, 1
	refs.links[0].Revenue = map[string]decimal.Decimal{"EUR": decimal.RequireFromString("2")}
	rep, err = f.HandleReferrals(ctx)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := tr.T("admin_ref_line", "Gym Moscow", "https://t.me/fitness_bot?start=ab12cd34", int64(5), int64(3), int64(1), "2.00 EUR")
	if !strings.Contains(rep.Text, want) {
		t.Errorf("expected %q in %q", want, rep.Text)
	}
}
