package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"fitness-payments-bot/internal/application"
	"fitness-payments-bot/internal/config"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/infra/metrics"
	red "fitness-payments-bot/internal/infra/redis"
)

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

const (
	commandLimit = 20
	checkLimit   = 6
	limitWindow  = time.Minute
)

// botAPI is the part of tgbotapi.BotAPI the adapter talks to.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Limiter is a fixed-window rate limiter; *redis.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RealTelegramBotAdapter polls updates and delegates to BotFacade.
type RealTelegramBotAdapter struct {
	bot         botAPI
	cfg         *config.BotConfig
	facade      *application.BotFacade
	rateLimiter Limiter

	adminIDsMap   map[int64]struct{}
	updateWorkers int

	mu            sync.Mutex
	cancelPolling context.CancelFunc
	log           *zerolog.Logger
}

func NewRealTelegramBotAdapter(cfg *config.BotConfig, facade *application.BotFacade, rateLimiter Limiter, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return newAdapter(bot, cfg, facade, rateLimiter, logger)
}

func newAdapter(bot botAPI, cfg *config.BotConfig, facade *application.BotFacade, rateLimiter Limiter, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if facade == nil {
		return nil, errors.New("bot facade is nil")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	adminMap := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		adminMap[id] = struct{}{}
	}
	compLog := logger.With().Str("component", "TelegramBot").Logger()
	return &RealTelegramBotAdapter{
		bot:           bot,
		cfg:           cfg,
		facade:        facade,
		rateLimiter:   rateLimiter,
		adminIDsMap:   adminMap,
		updateWorkers: workers,
		log:           &compLog,
	}, nil
}

// StartPolling blocks until ctx is cancelled or StopPolling is called.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelPolling = cancel
	r.mu.Unlock()
	defer cancel()

	if err := r.SetMenuCommands(ctx, 0, false); err != nil {
		r.log.Warn().Err(err).Msg("set default commands failed")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)
	defer r.bot.StopReceivingUpdates()

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)
	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range updateChan {
				if err := r.handleUpdate(ctx, up); err != nil {
					r.log.Error().Err(err).Int("worker", id).Int("update_id", up.UpdateID).Msg("update failed")
				}
			}
		}(i)
	}
	r.log.Info().Int("workers", r.updateWorkers).Msg("telegram polling started")

	defer func() {
		close(updateChan)
		wg.Wait()
		r.log.Info().Msg("telegram polling stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case updateChan <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *RealTelegramBotAdapter) StopPolling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}

func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, tgID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.bot.Send(tgbotapi.NewMessage(tgID, text))
	return err
}

// SendButtons sends text with an inline keyboard. A button with URL opens a
// link; otherwise it sends Data (or its label when Data is empty) as callback.
func (r *RealTelegramBotAdapter) SendButtons(ctx context.Context, telegramID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		kr := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, kr)
	}
	msg := tgbotapi.NewMessage(telegramID, text)
	if len(kbRows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	}
	_, err := r.bot.Send(msg)
	return err
}

// SetMenuCommands publishes the command list. chatID 0 sets the default
// list; an admin chat also gets the admin commands.
func (r *RealTelegramBotAdapter) SetMenuCommands(ctx context.Context, chatID int64, isAdmin bool) error {
	cmds := []tgbotapi.BotCommand{
		{Command: "start", Description: "Start"},
		{Command: "packages", Description: "Coin packages"},
		{Command: "balance", Description: "Your coins"},
		{Command: "payments", Description: "Recent payments"},
		{Command: "link", Description: "Link fitness account"},
		{Command: "stats", Description: "Your activity"},
		{Command: "help", Description: "Help"},
	}
	if isAdmin {
		cmds = append(cmds,
			tgbotapi.BotCommand{Command: "admin_stats", Description: "Users and revenue"},
			tgbotapi.BotCommand{Command: "dangling", Description: "Uncredited payments"},
			tgbotapi.BotCommand{Command: "retry_credit", Description: "Credit an order again"},
			tgbotapi.BotCommand{Command: "set_bonus", Description: "Registration bonus"},
			tgbotapi.BotCommand{Command: "set_coins", Description: "Set a user's coins"},
			tgbotapi.BotCommand{Command: "ban", Description: "Block a user"},
			tgbotapi.BotCommand{Command: "unban", Description: "Unblock a user"},
			tgbotapi.BotCommand{Command: "ref_create", Description: "New referral link"},
			tgbotapi.BotCommand{Command: "referrals", Description: "Referral links"},
		)
	}
	var cfg tgbotapi.SetMyCommandsConfig
	if chatID == 0 {
		cfg = tgbotapi.NewSetMyCommands(cmds...)
	} else {
		cfg = tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(chatID), cmds...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.bot.Request(cfg)
	return err
}

func (r *RealTelegramBotAdapter) isAdmin(tgID int64) bool {
	_, ok := r.adminIDsMap[tgID]
	return ok
}

// blocked reports whether a non-admin sender is banned.
func (r *RealTelegramBotAdapter) blocked(ctx context.Context, tgID int64) bool {
	return !r.isAdmin(tgID) && r.facade.Banned(ctx, tgID)
}

// allow reports whether key is under limit. Limiter failures let the request through.
func (r *RealTelegramBotAdapter) allow(ctx context.Context, key string, limit int) bool {
	if r.rateLimiter == nil {
		return true
	}
	ok, err := r.rateLimiter.Allow(ctx, key, limit, limitWindow)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		metrics.IncRateLimitTriggered()
	}
	return ok
}

// send delivers a facade reply. An error from the facade is logged and
// replaced by the generic error text.
func (r *RealTelegramBotAdapter) send(ctx context.Context, chatID int64, rep application.Reply, err error) error {
	if err != nil {
		r.log.Error().Err(err).Int64("tg_id", chatID).Msg("handler failed")
		rep = application.Reply{Text: r.facade.T("error_generic")}
	}
	if len(rep.Buttons) > 0 {
		return r.SendButtons(ctx, chatID, rep.Text, rep.Buttons)
	}
	return r.SendMessage(ctx, chatID, rep.Text)
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return r.handleQuery(ctx, update.CallbackQuery)
	}
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	chatID := msg.Chat.ID

	command := "message"
	if msg.IsCommand() {
		command = msg.Command()
	}
	if !r.allow(ctx, red.UserCommandKey(msg.From.ID, command), commandLimit) {
		return r.SendMessage(ctx, chatID, r.facade.T("rate_limited"))
	}
	if r.blocked(ctx, msg.From.ID) {
		return r.SendMessage(ctx, chatID, r.facade.T("user_banned"))
	}

	if msg.IsCommand() {
		metrics.IncTelegramCommand(command)
		if fn, ok := r.commandRoutes()[command]; ok {
			return fn(ctx, msg)
		}
		return r.SendMessage(ctx, chatID, r.facade.T("unknown_command"))
	}

	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	rep, handled, err := r.facade.HandleText(ctx, msg.From.ID, msg.Text)
	if !handled && err == nil {
		return r.sendMainMenu(ctx, chatID)
	}
	return r.send(ctx, chatID, rep, err)
}

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query == nil || query.From == nil {
		return errors.New("invalid callback query")
	}
	// stop the client spinner
	defer func() { _, _ = r.bot.Request(tgbotapi.NewCallback(query.ID, "")) }()

	chatID := query.From.ID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}
	data := strings.TrimSpace(query.Data)

	if !r.allow(ctx, red.UserCommandKey(query.From.ID, "cb"), commandLimit*2) {
		return r.SendMessage(ctx, chatID, r.facade.T("rate_limited"))
	}
	if r.blocked(ctx, query.From.ID) {
		return r.SendMessage(ctx, chatID, r.facade.T("user_banned"))
	}

	if fn, ok := r.cbRoutes()[data]; ok {
		return fn(ctx, query.From.ID, chatID, data)
	}
	for _, pr := range r.cbPrefixRoutes() {
		if strings.HasPrefix(data, pr.Prefix) {
			return pr.Fn(ctx, query.From.ID, chatID, strings.TrimPrefix(data, pr.Prefix))
		}
	}
	return errors.New("unknown callback data: " + data)
}

func (r *RealTelegramBotAdapter) sendMainMenu(ctx context.Context, chatID int64) error {
	return r.SendButtons(ctx, chatID, r.facade.T("menu"), r.facade.MainMenu())
}
