package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

type UsersRepo struct{ db *pgxpool.Pool }

func NewUsersRepo(db *pgxpool.Pool) *UsersRepo { return &UsersRepo{db: db} }

func (r *UsersRepo) Upsert(ctx context.Context, u models.User) (string, error) {
	row := r.db.QueryRow(ctx, `
		insert into users (id_tag, email, name, is_active)
		values ($1,$2,$3,$4)
		on conflict (id_tag) do update set
		  email=excluded.email,
		  name=excluded.name,
		  is_active=excluded.is_active
		returning user_id
	`, u.IDTag, u.Email, u.Name, u.IsActive)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *UsersRepo) GetByTag(ctx context.Context, tag string) (*models.User, error) {
	row := r.db.QueryRow(ctx, `select user_id, id_tag, email, name, is_active from users where id_tag=$1`, tag)

	var u models.User
	if err := row.Scan(&u.UserID, &u.IDTag, &u.Email, &u.Name, &u.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

type WalletsRepo struct{ db *pgxpool.Pool }

func NewWalletsRepo(db *pgxpool.Pool) *WalletsRepo { return &WalletsRepo{db: db} }

// Balance is zero for users without a wallet row.
func (r *WalletsRepo) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var b decimal.Decimal
	err := r.db.QueryRow(ctx, `select balance::text from wallets where user_id=$1`, userID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero(), nil
	}
	return b, err
}

func (r *WalletsRepo) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		insert into wallets (user_id, balance) values ($1,$2::numeric)
		on conflict (user_id) do update set balance=excluded.balance, updated_at=now()
	`, userID, balance.String())
	return err
}

// Debit charges a session once. A second debit for the same session is a
// no-op, so retried settlements never double charge.
func (r *WalletsRepo) Debit(ctx context.Context, userID, sessionID string, amount decimal.Decimal) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		insert into wallet_debits (user_id, session_id, amount) values ($1,$2,$3::numeric)
		on conflict (user_id, session_id) do nothing
	`, userID, sessionID, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		insert into wallets (user_id, balance) values ($1, -$2::numeric)
		on conflict (user_id) do update set balance=wallets.balance - $2::numeric, updated_at=now()
	`, userID, amount.String()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
