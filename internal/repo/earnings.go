package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

type EarningsRepo struct{ db *pgxpool.Pool }

func NewEarningsRepo(db *pgxpool.Pool) *EarningsRepo { return &EarningsRepo{db: db} }

// Credit records the owner's share of a session once.
func (r *EarningsRepo) Credit(ctx context.Context, ownerID, sessionID string, amount decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		insert into owner_earnings (owner_id, session_id, amount)
		values ($1,$2,$3::numeric)
		on conflict (owner_id, session_id) do nothing
	`, ownerID, sessionID, amount.String())
	return err
}

func (r *EarningsRepo) Total(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `select coalesce(sum(amount),0)::text from owner_earnings where owner_id=$1`, ownerID).Scan(&total)
	return total, err
}

type RevenueShareRepo struct{ db *pgxpool.Pool }

func NewRevenueShareRepo(db *pgxpool.Pool) *RevenueShareRepo { return &RevenueShareRepo{db: db} }

// Get returns nil when no share is configured; pricing then uses its default.
func (r *RevenueShareRepo) Get(ctx context.Context) (*models.RevenueShare, error) {
	var s models.RevenueShare
	err := r.db.QueryRow(ctx, `select investor_percent::text, updated_at from revenue_share where id=1`).Scan(&s.InvestorPercent, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *RevenueShareRepo) Set(ctx context.Context, investorPercent decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		insert into revenue_share (id, investor_percent) values (1, $1::numeric)
		on conflict (id) do update set investor_percent=excluded.investor_percent, updated_at=now()
	`, investorPercent.String())
	return err
}
