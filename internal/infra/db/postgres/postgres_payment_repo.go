package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, user_id, telegram_id, order_id, provider_ref, checkout_url, amount::text, currency, status,
  package_id, coins, duration_days, credit_state, credit_error, meta, created_at, updated_at, completed_at`

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, telegram_id, order_id, provider_ref, checkout_url, amount, currency, status,
  package_id, coins, duration_days, credit_state, credit_error, meta, created_at, updated_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15::jsonb,$16,$17,$18
);`
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	if p.CreditState == "" {
		p.CreditState = model.CreditNone
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.TelegramID, p.OrderID, p.ProviderRef, p.CheckoutURL, p.Amount.String(), p.Currency, string(p.Status),
		p.PackageID, p.Coins, p.DurationDays, string(p.CreditState), p.CreditError, string(meta), p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err := mapErr("create payment", err); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE order_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapErr("find payment", err)
	}
	return p, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + paymentCols + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return r.list(ctx, tx, "list by user", q, userID, limit)
}

func (r *paymentRepo) ListPending(ctx context.Context, tx repository.Tx, createdAfter time.Time, after repository.PageCursor, limit int) ([]*model.Payment, error) {
	return r.listPendingPage(ctx, tx, "created_at > $1", createdAfter, after, limit)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, after repository.PageCursor, limit int) ([]*model.Payment, error) {
	return r.listPendingPage(ctx, tx, "created_at <= $1", olderThan, after, limit)
}

func (r *paymentRepo) listPendingPage(ctx context.Context, tx repository.Tx, bound string, at time.Time, after repository.PageCursor, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	if after.IsZero() {
		q := `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND ` + bound +
			` ORDER BY created_at, id LIMIT $2`
		return r.list(ctx, tx, "list pending", q, at, limit)
	}
	q := `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND ` + bound +
		` AND (created_at, id) > ($2::timestamptz, $3::uuid) ORDER BY created_at, id LIMIT $4`
	return r.list(ctx, tx, "list pending", q, at, after.CreatedAt, after.ID, limit)
}

func (r *paymentRepo) Transition(ctx context.Context, tx repository.Tx, orderID string, to model.PaymentStatus, at time.Time) error {
	if !model.PaymentStatusPending.CanTransition(to) {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE payments
   SET status = $2::text,
       completed_at = CASE WHEN $2::text = 'completed' THEN $3::timestamptz ELSE NULL END,
       credit_state = CASE WHEN $2::text = 'completed' THEN 'crediting' ELSE credit_state END,
       updated_at = $3::timestamptz
 WHERE order_id = $1
   AND status = 'pending'`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, string(to), at)
	if err != nil {
		return mapErr("transition", err)
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	return r.missingOrSettled(ctx, tx, orderID)
}

func (r *paymentRepo) AttachCheckout(ctx context.Context, tx repository.Tx, orderID, providerRef, checkoutURL string) error {
	const q = `UPDATE payments SET provider_ref=$2, checkout_url=$3, updated_at=NOW() WHERE order_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, providerRef, checkoutURL)
	if err != nil {
		return mapErr("attach checkout", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) SetCreditState(ctx context.Context, tx repository.Tx, orderID string, from, to model.CreditState, lastErr string) (bool, error) {
	const q = `
UPDATE payments
   SET credit_state = $3, credit_error = $4, updated_at = NOW()
 WHERE order_id = $1
   AND status = 'completed'
   AND credit_state = $2`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, string(from), string(to), lastErr)
	if err != nil {
		return false, mapErr("set credit state", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) ListDangling(ctx context.Context, tx repository.Tx, staleBefore time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + paymentCols + ` FROM payments
 WHERE status = 'completed'
   AND (credit_state = 'failed' OR (credit_state = 'crediting' AND updated_at < $1))
 ORDER BY completed_at, id LIMIT $2`
	return r.list(ctx, tx, "list dangling", q, staleBefore, limit)
}

func (r *paymentRepo) ReclaimStaleCredit(ctx context.Context, tx repository.Tx, orderID string, staleBefore, at time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET updated_at = $3
 WHERE order_id = $1
   AND status = 'completed'
   AND credit_state = 'crediting'
   AND updated_at < $2`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, staleBefore, at)
	if err != nil {
		return false, mapErr("reclaim stale credit", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (map[string]decimal.Decimal, error) {
	const q = `SELECT currency, COALESCE(SUM(amount),0)::text FROM payments WHERE status='completed' AND completed_at >= $1 GROUP BY currency;`
	rows, err := queryRows(ctx, r.pool, tx, q, since)
	if err != nil {
		return nil, mapErr("sum completed", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var cur, sum string
		if err := rows.Scan(&cur, &sum); err != nil {
			return nil, mapErr("sum completed", err)
		}
		d, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("sum completed: %w", err)
		}
		out[cur] = d
	}
	return out, mapErr("sum completed", rows.Err())
}

func (r *paymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM payments GROUP BY status;`)
	if err != nil {
		return nil, mapErr("count by status", err)
	}
	defer rows.Close()

	out := make(map[model.PaymentStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, mapErr("count by status", err)
		}
		out[model.PaymentStatus(st)] = n
	}
	return out, mapErr("count by status", rows.Err())
}

// missingOrSettled distinguishes a lost CAS from an unknown order id.
func (r *paymentRepo) missingOrSettled(ctx context.Context, tx repository.Tx, orderID string) error {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS(SELECT 1 FROM payments WHERE order_id=$1);`, orderID)
	if err != nil {
		return err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return mapErr("transition lookup", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, op, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, p)
	}
	return out, mapErr(op, rows.Err())
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p              model.Payment
		amount         string
		status, credit string
		meta           []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.TelegramID, &p.OrderID, &p.ProviderRef, &p.CheckoutURL, &amount, &p.Currency, &status,
		&p.PackageID, &p.Coins, &p.DurationDays, &credit, &p.CreditError, &meta, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", amount, err)
	}
	p.Amount = d
	p.Status = model.PaymentStatus(status)
	p.CreditState = model.CreditState(credit)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
	}
	return &p, nil
}
