package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fitness-payments-bot/internal/infra/metrics"
	red "fitness-payments-bot/internal/infra/redis"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":    r.handleStartCommand,
		"help":     r.handleHelpCommand,
		"policy":   r.handlePolicyCommand,
		"packages": r.handlePackagesCommand,
		"buy":      r.handleBuyCommand,
		"check":    r.handleCheckCommand,
		"balance":  r.handleBalanceCommand,
		"stats":    r.handleStatsCommand,
		"payments": r.handlePaymentsCommand,
		"link":     r.handleLinkCommand,
		"cancel":   r.handleCancelCommand,

		"admin_stats":  r.adminOnly(r.handleAdminStatsCommand),
		"dangling":     r.adminOnly(r.handleDanglingCommand),
		"retry_credit": r.adminOnly(r.handleRetryCreditCommand),
		"set_bonus":    r.adminOnly(r.handleSetBonusCommand),
		"set_coins":    r.adminOnly(r.handleSetCoinsCommand),
		"ban":          r.adminOnly(r.handleBanCommand),
		"unban":        r.adminOnly(r.handleUnbanCommand),
		"ref_create":   r.adminOnly(r.handleRefCreateCommand),
		"referrals":    r.adminOnly(r.handleReferralsCommand),
	}
}

func (r *RealTelegramBotAdapter) adminOnly(next commandHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		if !r.isAdmin(message.From.ID) {
			metrics.IncAdminCommand("/"+message.Command(), "unauthorized")
			return r.SendMessage(ctx, message.Chat.ID, r.facade.T("error_unauthorized"))
		}
		metrics.IncAdminCommand("/"+message.Command(), "authorized")
		r.log.Info().Int64("admin_id", message.From.ID).Str("command", message.Command()).Str("args", message.CommandArguments()).Msg("admin command")
		return next(ctx, message)
	}
}

func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	// t.me/<bot>?start=<code> arrives as "/start <code>"
	rep, err := r.facade.HandleStart(ctx, message.From.ID, message.From.UserName, firstArg(message))
	if err == nil && r.isAdmin(message.From.ID) {
		if cerr := r.SetMenuCommands(ctx, message.Chat.ID, true); cerr != nil {
			r.log.Warn().Err(cerr).Int64("tg_id", message.From.ID).Msg("set admin commands failed")
		}
	}
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.send(ctx, message.Chat.ID, r.facade.HandleHelp(r.isAdmin(message.From.ID)), nil)
}

func (r *RealTelegramBotAdapter) handlePolicyCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.send(ctx, message.Chat.ID, r.facade.HandlePolicy(), nil)
}

func (r *RealTelegramBotAdapter) handlePackagesCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.send(ctx, message.Chat.ID, r.facade.HandlePackages(), nil)
}

func (r *RealTelegramBotAdapter) handleBuyCommand(ctx context.Context, message *tgbotapi.Message) error {
	packageID := firstArg(message)
	if packageID == "" {
		return r.SendMessage(ctx, message.Chat.ID, r.facade.T("buy_usage"))
	}
	rep, err := r.facade.HandleBuy(ctx, message.From.ID, packageID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleCheckCommand(ctx context.Context, message *tgbotapi.Message) error {
	orderID := firstArg(message)
	if orderID == "" {
		return r.SendMessage(ctx, message.Chat.ID, r.facade.T("check_usage"))
	}
	if !r.allow(ctx, red.CheckStatusKey(message.From.ID), checkLimit) {
		return r.SendMessage(ctx, message.Chat.ID, r.facade.T("check_throttled"))
	}
	rep, err := r.facade.HandleCheck(ctx, message.From.ID, orderID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleBalanceCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleBalance(ctx, message.From.ID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleStatsCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleMyStats(ctx, message.From.ID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handlePaymentsCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandlePayments(ctx, message.From.ID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleLinkCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleLink(ctx, message.From.ID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleCancelCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleCancel(ctx, message.From.ID)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleAdminStatsCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleAdminStats(ctx)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleDanglingCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleDangling(ctx)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleRetryCreditCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleRetryCredit(ctx, firstArg(message))
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleSetBonusCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleSetBonus(firstArg(message))
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleSetCoinsCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleSetCoins(ctx, message.CommandArguments())
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleBanCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleBan(ctx, firstArg(message), true)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleUnbanCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleBan(ctx, firstArg(message), false)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleRefCreateCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleRefCreate(ctx, message.From.ID, message.CommandArguments())
	return r.send(ctx, message.Chat.ID, rep, err)
}

func (r *RealTelegramBotAdapter) handleReferralsCommand(ctx context.Context, message *tgbotapi.Message) error {
	rep, err := r.facade.HandleReferrals(ctx)
	return r.send(ctx, message.Chat.ID, rep, err)
}

func firstArg(message *tgbotapi.Message) string {
	fields := strings.Fields(message.CommandArguments())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
