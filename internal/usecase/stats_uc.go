package usecase

import (
	"context"
	"time"

	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// Stats is the admin dashboard snapshot.
type Stats struct {
	Users        int                         `json:"users"`
	ActiveWeek   int                         `json:"active_7d"`
	RevenueWeek  map[string]decimal.Decimal  `json:"revenue_week"`
	RevenueMonth map[string]decimal.Decimal  `json:"revenue_month"`
	RevenueYear  map[string]decimal.Decimal  `json:"revenue_year"`
	ByStatus     map[model.PaymentStatus]int `json:"payments_by_status"`
	Dangling     int                         `json:"dangling_credits"`
	GeneratedAt  time.Time                   `json:"generated_at"`
}

type StatsUseCase interface {
	Snapshot(ctx context.Context) (*Stats, error)
	Revenue(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error)
}

type statsUC struct {
	users    repository.UserRepository
	payments repository.PaymentRepository
	// crediting rows older than this count as dangling
	staleCredit time.Duration
	now         func() time.Time

	log *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, payments repository.PaymentRepository, staleCredit time.Duration, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, payments: payments, staleCredit: staleCredit, now: time.Now, log: logger}
}

// danglingScanLimit caps the dangling count on the dashboard.
const danglingScanLimit = 1000

func (s *statsUC) Snapshot(ctx context.Context) (*Stats, error) {
	now := s.now()
	st := &Stats{GeneratedAt: now}

	var err error
	if st.Users, err = s.users.CountUsers(ctx, repository.NoTX); err != nil {
		return nil, err
	}
	if st.ActiveWeek, err = s.users.CountActiveSince(ctx, repository.NoTX, now.AddDate(0, 0, -7)); err != nil {
		return nil, err
	}
	if st.RevenueWeek, err = s.Revenue(ctx, now.AddDate(0, 0, -7)); err != nil {
		return nil, err
	}
	if st.RevenueMonth, err = s.Revenue(ctx, now.AddDate(0, -1, 0)); err != nil {
		return nil, err
	}
	if st.RevenueYear, err = s.Revenue(ctx, now.AddDate(-1, 0, 0)); err != nil {
		return nil, err
	}
	if st.ByStatus, err = s.payments.CountByStatus(ctx, repository.NoTX); err != nil {
		return nil, err
	}
	dangling, err := s.payments.ListDangling(ctx, repository.NoTX, now.Add(-s.staleCredit), danglingScanLimit)
	if err != nil {
		return nil, err
	}
	st.Dangling = len(dangling)
	return st, nil
}

func (s *statsUC) Revenue(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	sums, err := s.payments.SumCompletedSince(ctx, repository.NoTX, since)
	if err != nil {
		s.log.Error().Err(err).Time("since", since).Msg("revenue query failed")
		return nil, err
	}
	if sums == nil {
		sums = map[string]decimal.Decimal{}
	}
	return sums, nil
}
