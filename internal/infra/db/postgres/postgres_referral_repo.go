package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"
)

var _ repository.ReferralRepository = (*referralRepo)(nil)

type referralRepo struct{ pool *pgxpool.Pool }

func NewReferralRepo(pool *pgxpool.Pool) *referralRepo {
	return &referralRepo{pool: pool}
}

const referralCols = `id, code, name, creator_tg_id, clicks, registrations, purchases, is_active, created_at`

func (r *referralRepo) Create(ctx context.Context, tx repository.Tx, l *model.ReferralLink) error {
	const q = `
INSERT INTO referral_links (id, code, name, creator_tg_id, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6);`
	_, err := execSQL(ctx, r.pool, tx, q, l.ID, l.Code, l.Name, l.CreatorTgID, l.IsActive, l.CreatedAt)
	return mapErr("create referral link", err)
}

func (r *referralRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ReferralLink, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+referralCols+` FROM referral_links WHERE code=$1;`, code)
	if err != nil {
		return nil, err
	}
	l, err := scanReferral(row)
	if err != nil {
		return nil, mapErr("find referral link", err)
	}
	return l, nil
}

func (r *referralRepo) ListActive(ctx context.Context, tx repository.Tx, limit int) ([]*model.ReferralLink, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+referralCols+` FROM referral_links WHERE is_active ORDER BY created_at DESC, id LIMIT $1;`, limit)
	if err != nil {
		return nil, mapErr("list referral links", err)
	}
	var (
		out    []*model.ReferralLink
		byCode = make(map[string]*model.ReferralLink)
		codes  []string
	)
	for rows.Next() {
		l, err := scanReferral(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr("list referral links", err)
		}
		out = append(out, l)
		byCode[l.Code] = l
		codes = append(codes, l.Code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("list referral links", err)
	}
	if len(codes) == 0 {
		return out, nil
	}

	// revenue comes from the payments themselves, not a running total
	const q = `
SELECT u.referred_by, p.currency, SUM(p.amount)::text
FROM payments p JOIN users u ON u.id = p.user_id
WHERE p.status = 'completed' AND u.referred_by = ANY($1)
GROUP BY u.referred_by, p.currency;`
	rev, err := queryRows(ctx, r.pool, tx, q, codes)
	if err != nil {
		return nil, mapErr("referral revenue", err)
	}
	defer rev.Close()
	for rev.Next() {
		var code, cur, sum string
		if err := rev.Scan(&code, &cur, &sum); err != nil {
			return nil, mapErr("referral revenue", err)
		}
		d, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("referral revenue: %w", err)
		}
		byCode[code].Revenue[cur] = d
	}
	return out, mapErr("referral revenue", rev.Err())
}

func (r *referralRepo) RecordClick(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return r.bump(ctx, tx, "clicks", code)
}

func (r *referralRepo) RecordRegistration(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return r.bump(ctx, tx, "registrations", code)
}

func (r *referralRepo) RecordPurchase(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return r.bump(ctx, tx, "purchases", code)
}

// bump increments one counter column; col is always a constant from this file.
func (r *referralRepo) bump(ctx context.Context, tx repository.Tx, col, code string) (bool, error) {
	q := `UPDATE referral_links SET ` + col + `=` + col + `+1 WHERE code=$1 AND is_active;`
	tag, err := execSQL(ctx, r.pool, tx, q, code)
	if err != nil {
		return false, mapErr("record referral "+col, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanReferral(row pgx.Row) (*model.ReferralLink, error) {
	l := model.ReferralLink{Revenue: make(map[string]decimal.Decimal)}
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &l.CreatorTgID, &l.Clicks, &l.Registrations, &l.Purchases, &l.IsActive, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
