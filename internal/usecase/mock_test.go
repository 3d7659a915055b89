//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

// testClock is a settable clock shared by the engine and its fakes.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockGateway struct {
	CreateCheckoutFunc  func(ctx context.Context, req adapter.CheckoutRequest) (adapter.Checkout, error)
	GetStatusFunc       func(ctx context.Context, ref string) (adapter.GatewayStatus, error)
	VerifySignatureFunc func(signature string, body []byte) bool

	CreateCalls atomic.Int32
	StatusCalls atomic.Int32
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.Checkout, error) {
	m.CreateCalls.Add(1)
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	return adapter.Checkout{URL: "https://pay.example/" + req.OrderID, ProviderRef: "prov-" + req.OrderID}, nil
}

func (m *MockGateway) GetStatus(ctx context.Context, ref string) (adapter.GatewayStatus, error) {
	m.StatusCalls.Add(1)
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, ref)
	}
	return adapter.GatewayPending, nil
}

func (m *MockGateway) VerifySignature(signature string, body []byte) bool {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(signature, body)
	}
	return false
}

// ---- Mock BackendLedger ----

// MockLedger keeps balances per token so read-add-set races are observable.
type MockLedger struct {
	mu       sync.Mutex
	balances map[string]int64

	GetBalanceFunc        func(ctx context.Context, token string) (adapter.Balance, error)
	GrantSubscriptionFunc func(ctx context.Context, token string, coins int64, days int, price decimal.Decimal) (adapter.SubscriptionGrant, error)
	GrantBalanceFunc      func(ctx context.Context, token string, newTotal int64, source string) (adapter.BalanceResult, error)
	SendCodeFunc          func(ctx context.Context, email string) error
	ConfirmEmailFunc      func(ctx context.Context, email, code string) (adapter.AuthResult, error)
	GetUserStatsFunc      func(ctx context.Context, token string) (adapter.UserStats, error)

	SubscriptionCalls atomic.Int32
	GrantBalanceCalls atomic.Int32
}

var _ adapter.BackendLedger = (*MockLedger)(nil)

func NewMockLedger() *MockLedger {
	return &MockLedger{balances: map[string]int64{}}
}

func (m *MockLedger) Balance(token string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[token]
}

func (m *MockLedger) GetBalance(ctx context.Context, token string) (adapter.Balance, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return adapter.Balance{Balance: m.balances[token]}, nil
}

func (m *MockLedger) GrantSubscription(ctx context.Context, token string, coins int64, days int, price decimal.Decimal) (adapter.SubscriptionGrant, error) {
	m.SubscriptionCalls.Add(1)
	if m.GrantSubscriptionFunc != nil {
		return m.GrantSubscriptionFunc(ctx, token, coins, days, price)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] += coins
	return adapter.SubscriptionGrant{Success: true, NewBalance: m.balances[token]}, nil
}

func (m *MockLedger) GrantBalance(ctx context.Context, token string, newTotal int64, source string) (adapter.BalanceResult, error) {
	m.GrantBalanceCalls.Add(1)
	if m.GrantBalanceFunc != nil {
		return m.GrantBalanceFunc(ctx, token, newTotal, source)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] = newTotal
	return adapter.BalanceResult{Success: true, NewBalance: newTotal}, nil
}

func (m *MockLedger) SendVerificationCode(ctx context.Context, email string) error {
	if m.SendCodeFunc != nil {
		return m.SendCodeFunc(ctx, email)
	}
	return nil
}

func (m *MockLedger) ConfirmEmail(ctx context.Context, email, code string) (adapter.AuthResult, error) {
	if m.ConfirmEmailFunc != nil {
		return m.ConfirmEmailFunc(ctx, email, code)
	}
	return adapter.AuthResult{AccessToken: "tok-" + email, UserID: "backend-1"}, nil
}

func (m *MockLedger) GetUserStats(ctx context.Context, token string) (adapter.UserStats, error) {
	if m.GetUserStatsFunc != nil {
		return m.GetUserStatsFunc(ctx, token)
	}
	return adapter.UserStats{}, nil
}

// ---- Token sealer ----

// plainSealer prefixes the owner so a token moved between users fails to open.
type plainSealer struct{}

func (plainSealer) Seal(plaintext, owner string) (string, error) {
	return owner + "|" + plaintext, nil
}

func (plainSealer) Open(sealed, owner string) (string, error) {
	prefix := owner + "|"
	if !strings.HasPrefix(sealed, prefix) {
		return "", domain.ErrInvalidArgument
	}
	return strings.TrimPrefix(sealed, prefix), nil
}

// ---- Mock PaymentNotifier ----

type MockNotifier struct {
	mu        sync.Mutex
	Completed []string // order ids
}

func (n *MockNotifier) OnPaymentCompleted(ctx context.Context, user *model.User, pkg *model.Package, p *model.Payment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Completed = append(n.Completed, p.OrderID)
}

func (n *MockNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Completed)
}

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User
	byTG map[int64]*model.User

	SaveFunc             func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	CountUsersFunc       func(ctx context.Context, tx repository.Tx) (int, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}, byTG: map[int64]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.byID[cp.ID] = &cp
	r.byTG[cp.TelegramID] = &cp
	return nil
}

func (r *MockUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if r.FindByTelegramIDFunc != nil {
		return r.FindByTelegramIDFunc(ctx, tx, tgID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byTG[tgID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	if r.CountUsersFunc != nil {
		return r.CountUsersFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

func (r *MockUserRepo) CountActiveSince(ctx context.Context, tx repository.Tx, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.byID {
		if !u.LastActiveAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// seedLinkedUser stores a linked user whose backend token opens to "tok-<tgID>".
func seedLinkedUser(r *MockUserRepo, tgID int64) *model.User {
	u, _ := model.NewUser("", tgID, "buyer")
	sealed, _ := plainSealer{}.Seal(tokenFor(tgID), u.ID)
	u.Link("buyer@example.com", "backend-user", sealed, time.Now())
	_ = r.Save(context.Background(), repository.NoTX, u)
	return u
}

func tokenFor(tgID int64) string {
	return "tok-" + strconv.FormatInt(tgID, 10)
}

// ---- Mock PaymentRepository ----

// MockPaymentRepo mirrors the conditional writes of the Postgres repo under one mutex.
type MockPaymentRepo struct {
	mu      sync.Mutex
	byOrder map[string]*model.Payment

	CreateFunc         func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	AttachCheckoutFunc func(ctx context.Context, tx repository.Tx, orderID, ref, url string) error
	// ErrAfterTransition is returned by Transition after the write has been applied.
	ErrAfterTransition error

	Transitions atomic.Int32 // successful transitions only
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byOrder: map[string]*model.Payment{}}
}

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Meta = make(map[string]string, len(p.Meta))
	for k, v := range p.Meta {
		cp.Meta[k] = v
	}
	return &cp
}

// Put stores p as-is, bypassing validation.
func (r *MockPaymentRepo) Put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOrder[p.OrderID] = clonePayment(p)
}

func (r *MockPaymentRepo) Get(orderID string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byOrder[orderID]; ok {
		return clonePayment(p)
	}
	return nil
}

func (r *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byOrder[p.OrderID]; dup {
		return domain.ErrDuplicateOrder
	}
	r.byOrder[p.OrderID] = clonePayment(p)
	return nil
}

func (r *MockPaymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	if p := r.Get(orderID); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byOrder {
		if p.UserID == userID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) pendingPage(keep func(*model.Payment) bool, after repository.PageCursor, limit int) []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Payment
	for _, p := range r.byOrder {
		if p.Status == model.PaymentStatusPending && keep(p) {
			all = append(all, clonePayment(p))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	var out []*model.Payment
	for _, p := range all {
		if !after.IsZero() {
			if p.CreatedAt.Before(after.CreatedAt) || (p.CreatedAt.Equal(after.CreatedAt) && p.ID <= after.ID) {
				continue
			}
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (r *MockPaymentRepo) ListPending(ctx context.Context, tx repository.Tx, createdAfter time.Time, after repository.PageCursor, limit int) ([]*model.Payment, error) {
	return r.pendingPage(func(p *model.Payment) bool { return p.CreatedAt.After(createdAfter) }, after, limit), nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, after repository.PageCursor, limit int) ([]*model.Payment, error) {
	return r.pendingPage(func(p *model.Payment) bool { return !p.CreatedAt.After(olderThan) }, after, limit), nil
}

func (r *MockPaymentRepo) Transition(ctx context.Context, tx repository.Tx, orderID string, to model.PaymentStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	p.Status = to
	p.UpdatedAt = at
	if to == model.PaymentStatusCompleted {
		t := at
		p.CompletedAt = &t
		p.CreditState = model.CreditCrediting
	}
	r.Transitions.Add(1)
	return r.ErrAfterTransition
}

func (r *MockPaymentRepo) AttachCheckout(ctx context.Context, tx repository.Tx, orderID, providerRef, checkoutURL string) error {
	if r.AttachCheckoutFunc != nil {
		return r.AttachCheckoutFunc(ctx, tx, orderID, providerRef, checkoutURL)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	p.ProviderRef, p.CheckoutURL = providerRef, checkoutURL
	return nil
}

func (r *MockPaymentRepo) SetCreditState(ctx context.Context, tx repository.Tx, orderID string, from, to model.CreditState, lastErr string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok || p.Status != model.PaymentStatusCompleted || p.CreditState != from {
		return false, nil
	}
	p.CreditState = to
	p.CreditError = lastErr
	return true, nil
}

func (r *MockPaymentRepo) ListDangling(ctx context.Context, tx repository.Tx, staleBefore time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byOrder {
		if p.Status != model.PaymentStatusCompleted {
			continue
		}
		if p.CreditState == model.CreditFailed || (p.CreditState == model.CreditCrediting && p.UpdatedAt.Before(staleBefore)) {
			out = append(out, clonePayment(p))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ReclaimStaleCredit(ctx context.Context, tx repository.Tx, orderID string, staleBefore, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok || p.Status != model.PaymentStatusCompleted || p.CreditState != model.CreditCrediting || !p.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	p.UpdatedAt = at
	return true, nil
}

func (r *MockPaymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (map[string]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, p := range r.byOrder {
		if p.Status == model.PaymentStatusCompleted && p.CompletedAt != nil && !p.CompletedAt.Before(since) {
			out[p.Currency] = out[p.Currency].Add(p.Amount)
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.PaymentStatus]int{}
	for _, p := range r.byOrder {
		out[p.Status]++
	}
	return out, nil
}

// ---- Mock ReferralRepository ----

type MockReferralRepo struct {
	mu    sync.Mutex
	links map[string]*model.ReferralLink

	CreateFunc      func(ctx context.Context, tx repository.Tx, l *model.ReferralLink) error
	RecordClickFunc func(ctx context.Context, tx repository.Tx, code string) (bool, error)
}

var _ repository.ReferralRepository = (*MockReferralRepo)(nil)

func NewMockReferralRepo() *MockReferralRepo {
	return &MockReferralRepo{links: map[string]*model.ReferralLink{}}
}

// Link returns a copy of the stored link, or nil.
func (r *MockReferralRepo) Link(code string) *model.ReferralLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[code]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (r *MockReferralRepo) Create(ctx context.Context, tx repository.Tx, l *model.ReferralLink) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, l)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.links[l.Code]; dup {
		return domain.ErrAlreadyExists
	}
	cp := *l
	r.links[l.Code] = &cp
	return nil
}

func (r *MockReferralRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ReferralLink, error) {
	if l := r.Link(code); l != nil {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockReferralRepo) ListActive(ctx context.Context, tx repository.Tx, limit int) ([]*model.ReferralLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ReferralLink
	for _, l := range r.links {
		if l.IsActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockReferralRepo) RecordClick(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	if r.RecordClickFunc != nil {
		return r.RecordClickFunc(ctx, tx, code)
	}
	return r.bump(code, func(l *model.ReferralLink) { l.Clicks++ }), nil
}

func (r *MockReferralRepo) RecordRegistration(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return r.bump(code, func(l *model.ReferralLink) { l.Registrations++ }), nil
}

func (r *MockReferralRepo) RecordPurchase(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return r.bump(code, func(l *model.ReferralLink) { l.Purchases++ }), nil
}

func (r *MockReferralRepo) bump(code string, fn func(*model.ReferralLink)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[code]
	if !ok || !l.IsActive {
		return false
	}
	fn(l)
	return true
}

// ---- Mock LinkStateRepository ----

type MockLinkStateRepo struct {
	mu     sync.Mutex
	states map[int64]repository.LinkState
}

var _ repository.LinkStateRepository = (*MockLinkStateRepo)(nil)

func NewMockLinkStateRepo() *MockLinkStateRepo {
	return &MockLinkStateRepo{states: map[int64]repository.LinkState{}}
}

func (m *MockLinkStateRepo) Set(ctx context.Context, chatID int64, state *repository.LinkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[chatID] = *state
	return nil
}

func (m *MockLinkStateRepo) Get(ctx context.Context, chatID int64) (*repository.LinkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chatID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MockLinkStateRepo) Clear(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
	return nil
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
