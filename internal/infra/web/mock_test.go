package web

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/infra/sched"
	"fitness-payments-bot/internal/usecase"
)

const (
	testAPIKey = "admin-key"
	testSecret = "0123456789abcdef0123456789abcdef"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockStatsUC struct {
	usecase.StatsUseCase
	SnapshotFunc func(ctx context.Context) (*usecase.Stats, error)
}

func (m *mockStatsUC) Snapshot(ctx context.Context) (*usecase.Stats, error) {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx)
	}
	return &usecase.Stats{
		Users:       2,
		RevenueWeek: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("4.00")},
		ByStatus:    map[model.PaymentStatus]int{model.PaymentStatusCompleted: 2},
		GeneratedAt: time.Now(),
	}, nil
}

type mockPaymentUC struct {
	usecase.PaymentUseCase
	dangling  []*model.Payment
	lastLimit int
	RetryFunc func(ctx context.Context, orderID string) (usecase.StatusReport, error)
}

func (m *mockPaymentUC) ListDanglingCredits(_ context.Context, limit int) ([]*model.Payment, error) {
	m.lastLimit = limit
	return m.dangling, nil
}

func (m *mockPaymentUC) RetryCredit(ctx context.Context, orderID string) (usecase.StatusReport, error) {
	if m.RetryFunc != nil {
		return m.RetryFunc(ctx, orderID)
	}
	for _, p := range m.dangling {
		if p.OrderID == orderID {
			cp := *p
			cp.CreditState = model.CreditCredited
			return usecase.StatusReport{Outcome: usecase.OutcomeCompleted, Payment: &cp}, nil
		}
	}
	return usecase.StatusReport{}, domain.ErrNotFound
}

type staticPackages struct{}

func (staticPackages) List() []*model.Package {
	p, _ := model.NewPackage("monthly", "Monthly", 100, 30, decimal.NewFromInt(2), "EUR")
	return []*model.Package{p}
}

func (staticPackages) Get(string) (*model.Package, error) { return nil, domain.ErrPackageNotFound }

type mockSweeper struct{ calls int }

func (m *mockSweeper) Sweep(context.Context) (sched.SweepReport, error) {
	m.calls++
	return sched.SweepReport{Expired: 1, SweepResult: usecase.SweepResult{Checked: 3, Completed: 2}}, nil
}
