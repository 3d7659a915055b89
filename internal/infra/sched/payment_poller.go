package sched

import (
	"context"
	"sync"
	"time"

	"fitness-payments-bot/internal/infra/metrics"
	"fitness-payments-bot/internal/usecase"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Reconciler is the slice of the payment use case the poller drives.
type Reconciler interface {
	ExpireStale(ctx context.Context) (int, error)
	ReconcilePending(ctx context.Context, perPayment time.Duration) (usecase.SweepResult, error)
}

// SweepReport is the outcome of one sweep. Shared is set when the caller
// joined a sweep that was already running.
type SweepReport struct {
	Expired int
	usecase.SweepResult
	Shared bool
}

// PaymentPoller periodically expires stale payments and re-checks young pending
// ones, so buyers who never press "check" are still credited.
type PaymentPoller struct {
	uc         Reconciler
	interval   time.Duration
	perPayment time.Duration
	maxSweep   time.Duration
	sf         singleflight.Group
	log        *zerolog.Logger

	mu   sync.Mutex
	life context.Context // Run's context; ends every sweep on shutdown
}

// defaultMaxSweep bounds one shared pass independently of who started it.
const defaultMaxSweep = 5 * time.Minute

func NewPaymentPoller(uc Reconciler, interval, perPayment time.Duration, logger *zerolog.Logger) *PaymentPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	if perPayment <= 0 {
		perPayment = 20 * time.Second
	}
	compLog := logger.With().Str("component", "PaymentPoller").Logger()
	return &PaymentPoller{uc: uc, interval: interval, perPayment: perPayment, maxSweep: defaultMaxSweep, log: &compLog}
}

func (p *PaymentPoller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.life = ctx
	p.mu.Unlock()

	p.log.Info().Dur("interval", p.interval).Msg("Starting payment poller")
	// Run once on startup, then on every tick
	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Stopping payment poller")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *PaymentPoller) tick(ctx context.Context) {
	rep, err := p.Sweep(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("payment sweep failed")
		return
	}
	if rep.Expired > 0 || rep.Completed > 0 || rep.Failed > 0 || rep.Errors > 0 {
		p.log.Info().
			Int("expired", rep.Expired).
			Int("checked", rep.Checked).
			Int("completed", rep.Completed).
			Int("failed", rep.Failed).
			Int("errors", rep.Errors).
			Msg("payment sweep done")
	}
}

// Sweep runs one pass. Overlapping callers (a slow tick, an admin trigger)
// share the running pass instead of starting another. The pass outlives the
// caller that started it; it ends on its own deadline or when Run stops.
// A caller whose ctx ends stops waiting and gets ctx.Err().
func (p *PaymentPoller) Sweep(ctx context.Context) (SweepReport, error) {
	leader := false
	ch := p.sf.DoChan("sweep", func() (interface{}, error) {
		leader = true
		sctx, cancel := p.sweepContext(ctx)
		defer cancel()

		start := time.Now()
		rep, err := p.sweep(sctx)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveSweep(result, time.Since(start))
		return rep, err
	})

	select {
	case <-ctx.Done():
		return SweepReport{}, ctx.Err()
	case res := <-ch:
		// leader is written before the result is sent on ch
		if !leader {
			metrics.ObserveSweep("skipped", 0)
		}
		rep, _ := res.Val.(SweepReport)
		rep.Shared = !leader
		return rep, res.Err
	}
}

func (p *PaymentPoller) sweepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.maxSweep)

	p.mu.Lock()
	life := p.life
	p.mu.Unlock()
	if life == nil {
		return sctx, cancel
	}
	stop := context.AfterFunc(life, cancel)
	return sctx, func() {
		stop()
		cancel()
	}
}

func (p *PaymentPoller) sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport

	// expire first so the pending walk only sees payments still worth checking
	n, err := p.uc.ExpireStale(ctx)
	rep.Expired = n
	metrics.AddExpired(n)
	if err != nil {
		return rep, err
	}

	res, err := p.uc.ReconcilePending(ctx, p.perPayment)
	rep.SweepResult = res
	return rep, err
}
