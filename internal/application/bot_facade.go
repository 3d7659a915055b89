package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/i18n"
	"fitness-payments-bot/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const historyLimit = 10

// Reply is what the bot sends back: a text and optional inline keyboard.
type Reply struct {
	Text    string
	Buttons [][]adapter.InlineButton
}

func textReply(s string) Reply { return Reply{Text: s} }

// BotFacade turns chat actions into usecase calls and renders the answers.
// Errors returned are unexpected failures; expected refusals (not linked,
// unknown package, ...) come back as a localized Reply with a nil error.
type BotFacade struct {
	UserUC     usecase.UserUseCase
	PackageUC  usecase.PackageUseCase
	PaymentUC  usecase.PaymentUseCase
	AccountUC  usecase.AccountUseCase
	StatsUC    usecase.StatsUseCase
	SettingsUC usecase.SettingsService
	ReferralUC usecase.ReferralUseCase

	// BotUsername builds referral deep links; without it admins get bare codes.
	BotUsername string

	t   *i18n.Translator
	log *zerolog.Logger
}

func NewBotFacade(
	users usecase.UserUseCase,
	packages usecase.PackageUseCase,
	payments usecase.PaymentUseCase,
	accounts usecase.AccountUseCase,
	stats usecase.StatsUseCase,
	settings usecase.SettingsService,
	referrals usecase.ReferralUseCase,
	t *i18n.Translator,
	logger *zerolog.Logger,
) *BotFacade {
	compLog := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{
		UserUC:     users,
		PackageUC:  packages,
		PaymentUC:  payments,
		AccountUC:  accounts,
		StatsUC:    stats,
		SettingsUC: settings,
		ReferralUC: referrals,
		t:          t,
		log:        &compLog,
	}
}

func (f *BotFacade) T(key string, args ...interface{}) string { return f.t.T(key, args...) }

// MainMenu is the keyboard shown after /start and most answers.
func (f *BotFacade) MainMenu() [][]adapter.InlineButton {
	return [][]adapter.InlineButton{
		{{Text: f.t.T("btn_packages"), Data: "cmd:packages"}, {Text: f.t.T("btn_balance"), Data: "cmd:balance"}},
		{{Text: f.t.T("btn_link"), Data: "cmd:link"}, {Text: f.t.T("btn_stats"), Data: "cmd:mystats"}},
		{{Text: f.t.T("btn_payments"), Data: "cmd:payments"}},
	}
}

func (f *BotFacade) withMenu(text string) Reply {
	return Reply{Text: text, Buttons: f.MainMenu()}
}

// Banned reports whether tgID is blocked. Lookup failures let the user through.
func (f *BotFacade) Banned(ctx context.Context, tgID int64) bool {
	if f.UserUC == nil {
		return false
	}
	banned, err := f.UserUC.IsBanned(ctx, tgID)
	if err != nil {
		f.log.Warn().Err(err).Int64("tg_id", tgID).Msg("ban lookup failed")
		return false
	}
	return banned
}

// HandleStart registers the user. refCode is the deep-link payload, if any.
func (f *BotFacade) HandleStart(ctx context.Context, tgID int64, username, refCode string) (Reply, error) {
	u, created, err := f.UserUC.RegisterOrFetch(ctx, tgID, username, refCode)
	if err != nil {
		return Reply{}, err
	}
	switch {
	case created && u.RegistrationCoins > 0:
		return f.withMenu(f.t.T("welcome_bonus", u.RegistrationCoins)), nil
	case u.IsLinked():
		return f.withMenu(f.t.T("welcome_back")), nil
	default:
		return f.withMenu(f.t.T("welcome")), nil
	}
}

func (f *BotFacade) HandleHelp(isAdmin bool) Reply {
	text := f.t.T("help")
	if isAdmin {
		text += "\n\n" + f.t.T("help_admin")
	}
	return textReply(text)
}

func (f *BotFacade) HandlePolicy() Reply { return textReply(f.t.Policy()) }

// HandlePackages lists the catalog with one buy button per package.
func (f *BotFacade) HandlePackages() Reply {
	pkgs := f.PackageUC.List()
	if len(pkgs) == 0 {
		return textReply(f.t.T("packages_empty"))
	}
	var b strings.Builder
	b.WriteString(f.t.T("packages_header"))
	rows := make([][]adapter.InlineButton, 0, len(pkgs)+1)
	for _, p := range pkgs {
		b.WriteString("\n")
		b.WriteString(f.describePackage(p))
		rows = append(rows, []adapter.InlineButton{{
			Text: f.t.T("btn_buy", p.Name, formatPrice(p.Price, p.Currency)),
			Data: "buy:" + p.ID,
		}})
	}
	rows = append(rows, []adapter.InlineButton{{Text: f.t.T("btn_menu"), Data: "cmd:menu"}})
	return Reply{Text: b.String(), Buttons: rows}
}

func (f *BotFacade) describePackage(p *model.Package) string {
	price := formatPrice(p.Price, p.Currency)
	if p.Days > 0 {
		return f.t.T("package_line_subscription", p.Name, p.Coins, p.Days, price)
	}
	return f.t.T("package_line_coins", p.Name, p.Coins, price)
}

// HandleBuy opens a checkout for packageID and returns the pay and check buttons.
func (f *BotFacade) HandleBuy(ctx context.Context, tgID int64, packageID string) (Reply, error) {
	p, url, err := f.PaymentUC.StartPurchase(ctx, tgID, packageID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAccountNotLinked):
		return f.linkRequired(), nil
	case errors.Is(err, domain.ErrPackageNotFound):
		return textReply(f.t.T("package_not_found", packageID)), nil
	case errors.Is(err, domain.ErrNotFound):
		return textReply(f.t.T("start_first")), nil
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, domain.ErrGatewayRejected):
		f.log.Warn().Err(err).Int64("tg_id", tgID).Str("package_id", packageID).Msg("checkout not created")
		return textReply(f.t.T("gateway_unavailable")), nil
	default:
		return Reply{}, err
	}

	name := p.PackageID
	if pkg, perr := f.PackageUC.Get(p.PackageID); perr == nil {
		name = pkg.Name
	}
	return Reply{
		Text: f.t.T("checkout_created", name, formatPrice(p.Amount, p.Currency), p.OrderID),
		Buttons: [][]adapter.InlineButton{
			{{Text: f.t.T("btn_pay"), URL: url}},
			{{Text: f.t.T("btn_check"), Data: "chk:" + p.OrderID}},
		},
	}, nil
}

// HandleCheck is the "check payment" button for one of the user's orders.
func (f *BotFacade) HandleCheck(ctx context.Context, tgID int64, orderID string) (Reply, error) {
	rep, err := f.PaymentUC.CheckStatus(ctx, tgID, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return textReply(f.t.T("payment_not_found", orderID)), nil
		}
		return Reply{}, err
	}
	return f.RenderStatus(rep), nil
}

// RenderStatus turns a status report into the buyer-facing answer.
func (f *BotFacade) RenderStatus(rep usecase.StatusReport) Reply {
	p := rep.Payment
	again := [][]adapter.InlineButton{{{Text: f.t.T("btn_check"), Data: "chk:" + p.OrderID}}}
	switch rep.Outcome {
	case usecase.OutcomeProcessing:
		rows := again
		if p.CheckoutURL != "" {
			rows = append([][]adapter.InlineButton{{{Text: f.t.T("btn_pay"), URL: p.CheckoutURL}}}, again...)
		}
		return Reply{Text: f.t.T("payment_processing", p.OrderID), Buttons: rows}
	case usecase.OutcomeRetryLater:
		return Reply{Text: f.t.T("payment_retry_later"), Buttons: again}
	case usecase.OutcomeCompleted:
		return f.withMenu(CompletionMessage(f.t, rep.Package, p))
	case usecase.OutcomeFailed:
		return f.withMenu(f.t.T("payment_failed", p.OrderID))
	case usecase.OutcomeExpired:
		return f.withMenu(f.t.T("payment_expired", p.OrderID))
	}
	return textReply(f.t.T("error_generic"))
}

// CompletionMessage renders the text for a completed payment. A payment whose
// credit has not gone through yet gets the "being credited" text instead.
func CompletionMessage(t *i18n.Translator, pkg *model.Package, p *model.Payment) string {
	if p.CreditState == model.CreditFailed || p.CreditState == model.CreditCrediting {
		return t.T("payment_completed_credit_pending", p.OrderID)
	}
	name := p.PackageID
	if pkg != nil {
		name = pkg.Name
	}
	if p.SubscriptionGrant() {
		return t.T("payment_completed_subscription", name, p.Coins, p.DurationDays)
	}
	return t.T("payment_completed_coins", name, p.Coins)
}

func (f *BotFacade) HandlePayments(ctx context.Context, tgID int64) (Reply, error) {
	list, err := f.PaymentUC.ListForUser(ctx, tgID, historyLimit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return textReply(f.t.T("start_first")), nil
		}
		return Reply{}, err
	}
	if len(list) == 0 {
		return f.withMenu(f.t.T("payments_empty")), nil
	}
	var b strings.Builder
	b.WriteString(f.t.T("payments_header"))
	var rows [][]adapter.InlineButton
	for _, p := range list {
		b.WriteString("\n")
		b.WriteString(f.t.T("payment_line", p.CreatedAt.Format("2006-01-02"), p.OrderID, formatPrice(p.Amount, p.Currency), f.t.T("status_"+string(p.Status))))
		if p.Status == model.PaymentStatusPending {
			rows = append(rows, []adapter.InlineButton{{Text: f.t.T("btn_check_order", shortOrder(p.OrderID)), Data: "chk:" + p.OrderID}})
		}
	}
	rows = append(rows, []adapter.InlineButton{{Text: f.t.T("btn_menu"), Data: "cmd:menu"}})
	return Reply{Text: b.String(), Buttons: rows}, nil
}

func (f *BotFacade) HandleBalance(ctx context.Context, tgID int64) (Reply, error) {
	bal, err := f.AccountUC.Balance(ctx, tgID)
	if err != nil {
		return f.backendFailure(err, tgID)
	}
	text := f.t.T("balance", bal.Balance)
	if bal.HasActiveSubscription && bal.SubscriptionExpiresAt != nil {
		text += "\n" + f.t.T("balance_subscription", bal.SubscriptionExpiresAt.Format("2006-01-02"))
	}
	return f.withMenu(text), nil
}

func (f *BotFacade) HandleMyStats(ctx context.Context, tgID int64) (Reply, error) {
	st, err := f.AccountUC.Stats(ctx, tgID)
	if err != nil {
		return f.backendFailure(err, tgID)
	}
	return f.withMenu(f.t.T("my_stats", st.Workouts, st.Photos, st.Voice, st.Text, st.CoinsSpent)), nil
}

func (f *BotFacade) backendFailure(err error, tgID int64) (Reply, error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotLinked):
		return f.linkRequired(), nil
	case errors.Is(err, domain.ErrNotFound):
		return textReply(f.t.T("start_first")), nil
	case errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrBackendRejected):
		f.log.Warn().Err(err).Int64("tg_id", tgID).Msg("backend read failed")
		return textReply(f.t.T("backend_unavailable")), nil
	}
	return Reply{}, err
}

func (f *BotFacade) linkRequired() Reply {
	return Reply{
		Text:    f.t.T("link_required"),
		Buttons: [][]adapter.InlineButton{{{Text: f.t.T("btn_link"), Data: "cmd:link"}}},
	}
}

// HandleLink starts the email conversation.
func (f *BotFacade) HandleLink(ctx context.Context, tgID int64) (Reply, error) {
	err := f.AccountUC.BeginLink(ctx, tgID)
	switch {
	case err == nil:
		return textReply(f.t.T("link_ask_email")), nil
	case errors.Is(err, domain.ErrAlreadyLinked):
		return f.withMenu(f.t.T("link_already")), nil
	case errors.Is(err, domain.ErrNotFound):
		return textReply(f.t.T("start_first")), nil
	}
	return Reply{}, err
}

func (f *BotFacade) HandleCancel(ctx context.Context, tgID int64) (Reply, error) {
	if err := f.AccountUC.CancelLink(ctx, tgID); err != nil {
		return Reply{}, err
	}
	return f.withMenu(f.t.T("link_cancelled")), nil
}

// HandleText feeds free text into the link conversation. handled is false
// when no conversation is in progress.
func (f *BotFacade) HandleText(ctx context.Context, tgID int64, text string) (reply Reply, handled bool, err error) {
	step, err := f.AccountUC.LinkStep(ctx, tgID)
	if err != nil {
		return Reply{}, false, err
	}
	text = strings.TrimSpace(text)
	switch step {
	case repository.LinkAwaitingEmail:
		err := f.AccountUC.SubmitEmail(ctx, tgID, text)
		switch {
		case err == nil:
			return textReply(f.t.T("link_code_sent", strings.ToLower(text))), true, nil
		case errors.Is(err, domain.ErrInvalidEmail):
			return textReply(f.t.T("link_bad_email")), true, nil
		case errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrBackendRejected):
			return textReply(f.t.T("link_send_failed")), true, nil
		case errors.Is(err, domain.ErrLinkNotStarted):
			return Reply{}, false, nil
		}
		return Reply{}, true, err
	case repository.LinkAwaitingCode:
		u, err := f.AccountUC.SubmitCode(ctx, tgID, text)
		switch {
		case err == nil:
			return f.withMenu(f.t.T("link_done", u.Email)), true, nil
		case errors.Is(err, domain.ErrTooManyAttempts):
			return f.withMenu(f.t.T("link_too_many")), true, nil
		case errors.Is(err, domain.ErrBackendRejected):
			return textReply(f.t.T("link_bad_code")), true, nil
		case errors.Is(err, domain.ErrBackendUnavailable):
			return textReply(f.t.T("backend_unavailable")), true, nil
		case errors.Is(err, domain.ErrLinkNotStarted):
			return Reply{}, false, nil
		}
		return Reply{}, true, err
	}
	return Reply{}, false, nil
}

// ---- admin ----

func (f *BotFacade) HandleAdminStats(ctx context.Context) (Reply, error) {
	st, err := f.StatsUC.Snapshot(ctx)
	if err != nil {
		return Reply{}, err
	}
	var b strings.Builder
	b.WriteString(f.t.T("admin_stats_users", st.Users, st.ActiveWeek))
	fmt.Fprintf(&b, "\n%s %s", f.t.T("admin_stats_week"), formatRevenue(st.RevenueWeek))
	fmt.Fprintf(&b, "\n%s %s", f.t.T("admin_stats_month"), formatRevenue(st.RevenueMonth))
	fmt.Fprintf(&b, "\n%s %s", f.t.T("admin_stats_year"), formatRevenue(st.RevenueYear))
	b.WriteString("\n" + f.t.T("admin_stats_statuses",
		st.ByStatus[model.PaymentStatusPending], st.ByStatus[model.PaymentStatusCompleted],
		st.ByStatus[model.PaymentStatusFailed], st.ByStatus[model.PaymentStatusExpired]))
	b.WriteString("\n" + f.t.T("admin_stats_dangling", st.Dangling))
	return textReply(b.String()), nil
}

func (f *BotFacade) HandleDangling(ctx context.Context) (Reply, error) {
	list, err := f.PaymentUC.ListDanglingCredits(ctx, 20)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return textReply(f.t.T("admin_dangling_none")), nil
	}
	var b strings.Builder
	b.WriteString(f.t.T("admin_dangling_header", len(list)))
	for _, p := range list {
		fmt.Fprintf(&b, "\n%s tg=%d coins=%d days=%d: %s", p.OrderID, p.TelegramID, p.Coins, p.DurationDays, p.CreditError)
	}
	return textReply(b.String()), nil
}

func (f *BotFacade) HandleRetryCredit(ctx context.Context, orderID string) (Reply, error) {
	if orderID == "" {
		return textReply(f.t.T("admin_retry_usage")), nil
	}
	rep, err := f.PaymentUC.RetryCredit(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return textReply(f.t.T("payment_not_found", orderID)), nil
	case errors.Is(err, domain.ErrCreditNotRetryable):
		return textReply(f.t.T("admin_retry_not_dangling", orderID)), nil
	default:
		return Reply{}, err
	}
	if rep.CreditPending {
		return textReply(f.t.T("admin_retry_failed", orderID, rep.Payment.CreditError)), nil
	}
	return textReply(f.t.T("admin_retry_ok", orderID)), nil
}

func (f *BotFacade) HandleSetBonus(arg string) (Reply, error) {
	if arg == "" {
		return textReply(f.t.T("admin_bonus_current", f.SettingsUC.RegistrationCoins())), nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return textReply(f.t.T("admin_bonus_usage")), nil
	}
	if err := f.SettingsUC.SetRegistrationCoins(n); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return textReply(f.t.T("admin_bonus_usage")), nil
		}
		return Reply{}, err
	}
	return textReply(f.t.T("admin_bonus_set", n)), nil
}

// HandleSetCoins parses "<tg id> <coins>" and overwrites that user's balance.
func (f *BotFacade) HandleSetCoins(ctx context.Context, args string) (Reply, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return textReply(f.t.T("admin_coins_usage")), nil
	}
	tgID, err1 := strconv.ParseInt(fields[0], 10, 64)
	coins, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil || coins < 0 {
		return textReply(f.t.T("admin_coins_usage")), nil
	}
	res, err := f.AccountUC.SetBalance(ctx, tgID, coins)
	switch {
	case err == nil:
		return textReply(f.t.T("admin_coins_set", tgID, res.NewBalance)), nil
	case errors.Is(err, domain.ErrAccountNotLinked):
		return textReply(f.t.T("admin_coins_not_linked", tgID)), nil
	case errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrBackendRejected):
		f.log.Warn().Err(err).Int64("tg_id", tgID).Msg("admin balance write failed")
		return textReply(f.t.T("backend_unavailable")), nil
	}
	return Reply{}, err
}

// HandleBan bans or unbans the user whose Telegram id is arg.
func (f *BotFacade) HandleBan(ctx context.Context, arg string, banned bool) (Reply, error) {
	tgID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || tgID <= 0 {
		return textReply(f.t.T("admin_ban_usage")), nil
	}
	_, err = f.UserUC.SetBanned(ctx, tgID, banned)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return textReply(f.t.T("admin_user_not_found", tgID)), nil
	case errors.Is(err, domain.ErrInvalidArgument):
		return textReply(f.t.T("admin_ban_admin")), nil
	default:
		return Reply{}, err
	}
	if banned {
		return textReply(f.t.T("admin_banned", tgID)), nil
	}
	return textReply(f.t.T("admin_unbanned", tgID)), nil
}

func (f *BotFacade) HandleRefCreate(ctx context.Context, creatorTgID int64, name string) (Reply, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return textReply(f.t.T("admin_ref_usage")), nil
	}
	link, err := f.ReferralUC.Create(ctx, name, creatorTgID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return textReply(f.t.T("admin_ref_usage")), nil
		}
		return Reply{}, err
	}
	return textReply(f.t.T("admin_ref_created", link.Name, link.DeepLink(f.BotUsername), link.Code)), nil
}

// HandleReferrals lists the newest active referral links with their counters.
func (f *BotFacade) HandleReferrals(ctx context.Context) (Reply, error) {
	links, err := f.ReferralUC.ListActive(ctx, historyLimit)
	if err != nil {
		return Reply{}, err
	}
	if len(links) == 0 {
		return textReply(f.t.T("admin_ref_none")), nil
	}
	var b strings.Builder
	b.WriteString(f.t.T("admin_ref_header"))
	for _, l := range links {
		b.WriteString("\n\n")
		b.WriteString(f.t.T("admin_ref_line", l.Name, l.DeepLink(f.BotUsername), l.Clicks, l.Registrations, l.Purchases, formatRevenue(l.Revenue)))
	}
	return textReply(b.String()), nil
}

func formatPrice(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}

// formatRevenue prints per-currency totals in a stable order.
func formatRevenue(m map[string]decimal.Decimal) string {
	if len(m) == 0 {
		return "0"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, formatPrice(m[k], k))
	}
	return strings.Join(parts, ", ")
}

func shortOrder(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
