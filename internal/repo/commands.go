package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/models"
)

const (
	CommandPending = "Pending"
	CommandSent    = "Sent"
	CommandFailed  = "Failed"
)

type CommandsRepo struct{ db *pgxpool.Pool }

func NewCommandsRepo(db *pgxpool.Pool) *CommandsRepo { return &CommandsRepo{db: db} }

func (r *CommandsRepo) Create(ctx context.Context, c models.Command) (string, error) {
	var idem *string
	if c.IdempotencyKey != "" {
		idem = &c.IdempotencyKey
	}
	row := r.db.QueryRow(ctx, `
		insert into commands (station_identity, type, idempotency_key, payload, status)
		values ($1,$2,$3,$4,$5)
		returning command_id
	`, c.StationIdentity, c.Type, idem, c.PayloadJSON, c.Status)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *CommandsRepo) GetByIdempotency(ctx context.Context, idem string) (*models.Command, error) {
	row := r.db.QueryRow(ctx, `
		select command_id, station_identity, type, coalesce(idempotency_key,''), message_id, payload, status, error, created_at, updated_at
		from commands where idempotency_key=$1
	`, idem)

	var c models.Command
	if err := row.Scan(&c.CommandID, &c.StationIdentity, &c.Type, &c.IdempotencyKey, &c.MessageID, &c.PayloadJSON, &c.Status, &c.Error, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CommandsRepo) MarkSent(ctx context.Context, id, messageID string) error {
	_, err := r.db.Exec(ctx, `update commands set status='Sent', message_id=$2, updated_at=now() where command_id=$1`, id, messageID)
	return err
}

func (r *CommandsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.Exec(ctx, `update commands set status='Failed', error=$2, updated_at=now() where command_id=$1`, id, errMsg)
	return err
}
