package sched

import (
	"context"
	"fmt"
	"time"

	"fitness-payments-bot/internal/application"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/infra/i18n"
	"fitness-payments-bot/internal/infra/metrics"
	"fitness-payments-bot/internal/infra/worker"
	"fitness-payments-bot/internal/usecase"

	"github.com/rs/zerolog"
)

var _ usecase.PaymentNotifier = (*PoolNotifier)(nil)

// Submitter is the worker pool seen from the notifier.
type Submitter interface {
	Submit(task worker.Task) error
}

// PoolNotifier tells buyers about payments completed by the poller or a
// webhook. Sends run on the worker pool so a slow Telegram API never holds
// up a sweep.
type PoolNotifier struct {
	bot     adapter.TelegramBotAdapter
	pool    Submitter
	t       *i18n.Translator
	timeout time.Duration
	log     *zerolog.Logger
}

func NewPoolNotifier(pool Submitter, t *i18n.Translator, logger *zerolog.Logger) *PoolNotifier {
	compLog := logger.With().Str("component", "PoolNotifier").Logger()
	return &PoolNotifier{pool: pool, t: t, timeout: 15 * time.Second, log: &compLog}
}

// Bind sets the bot used for sends. The bot adapter is built on top of the
// payment use case, so it arrives after the notifier; call before serving.
func (n *PoolNotifier) Bind(bot adapter.TelegramBotAdapter) { n.bot = bot }

func (n *PoolNotifier) OnPaymentCompleted(ctx context.Context, user *model.User, pkg *model.Package, p *model.Payment) {
	if n.bot == nil {
		metrics.IncPaymentNotify("dropped")
		n.log.Warn().Str("order_id", p.OrderID).Msg("no bot bound; completion notification dropped")
		return
	}
	text := application.CompletionMessage(n.t, pkg, p)
	chatID, orderID := p.TelegramID, p.OrderID

	err := n.pool.Submit(func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.bot.SendMessage(sctx, chatID, text); err != nil {
			metrics.IncPaymentNotify("error")
			return fmt.Errorf("notify order %s: %w", orderID, err)
		}
		metrics.IncPaymentNotify("sent")
		return nil
	})
	if err != nil {
		metrics.IncPaymentNotify("dropped")
		n.log.Warn().Err(err).Str("order_id", orderID).Int64("tg_id", chatID).Msg("completion notification dropped")
	}
}
