package telegram

import (
	"context"

	red "fitness-payments-bot/internal/infra/redis"
)

// cbHandler receives the presser's Telegram id, the chat to answer in and
// the callback payload (prefix already stripped for prefix routes).
type cbHandler func(ctx context.Context, tgID, chatID int64, data string) error

type prefixCB struct {
	Prefix string
	Fn     cbHandler
}

func (r *RealTelegramBotAdapter) cbRoutes() map[string]cbHandler {
	return map[string]cbHandler{
		"cmd:menu":     r.menuCBRoute,
		"cmd:packages": r.packagesCBRoute,
		"cmd:balance":  r.balanceCBRoute,
		"cmd:link":     r.linkCBRoute,
		"cmd:mystats":  r.myStatsCBRoute,
		"cmd:payments": r.paymentsCBRoute,
	}
}

func (r *RealTelegramBotAdapter) cbPrefixRoutes() []prefixCB {
	return []prefixCB{
		{Prefix: "buy:", Fn: r.buyPrefixCBRoute},
		{Prefix: "chk:", Fn: r.checkPrefixCBRoute},
	}
}

func (r *RealTelegramBotAdapter) menuCBRoute(ctx context.Context, _, chatID int64, _ string) error {
	return r.sendMainMenu(ctx, chatID)
}

func (r *RealTelegramBotAdapter) packagesCBRoute(ctx context.Context, _, chatID int64, _ string) error {
	return r.send(ctx, chatID, r.facade.HandlePackages(), nil)
}

func (r *RealTelegramBotAdapter) balanceCBRoute(ctx context.Context, tgID, chatID int64, _ string) error {
	rep, err := r.facade.HandleBalance(ctx, tgID)
	return r.send(ctx, chatID, rep, err)
}

func (r *RealTelegramBotAdapter) linkCBRoute(ctx context.Context, tgID, chatID int64, _ string) error {
	rep, err := r.facade.HandleLink(ctx, tgID)
	return r.send(ctx, chatID, rep, err)
}

func (r *RealTelegramBotAdapter) myStatsCBRoute(ctx context.Context, tgID, chatID int64, _ string) error {
	rep, err := r.facade.HandleMyStats(ctx, tgID)
	return r.send(ctx, chatID, rep, err)
}

func (r *RealTelegramBotAdapter) paymentsCBRoute(ctx context.Context, tgID, chatID int64, _ string) error {
	rep, err := r.facade.HandlePayments(ctx, tgID)
	return r.send(ctx, chatID, rep, err)
}

func (r *RealTelegramBotAdapter) buyPrefixCBRoute(ctx context.Context, tgID, chatID int64, packageID string) error {
	rep, err := r.facade.HandleBuy(ctx, tgID, packageID)
	return r.send(ctx, chatID, rep, err)
}

// checkPrefixCBRoute is the "check payment" button. Presses are throttled
// per user since each one may hit the gateway.
func (r *RealTelegramBotAdapter) checkPrefixCBRoute(ctx context.Context, tgID, chatID int64, orderID string) error {
	if !r.allow(ctx, red.CheckStatusKey(tgID), checkLimit) {
		return r.SendMessage(ctx, chatID, r.facade.T("check_throttled"))
	}
	rep, err := r.facade.HandleCheck(ctx, tgID, orderID)
	return r.send(ctx, chatID, rep, err)
}
