package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const notificationCols = `id, recipient_id, sender_id, title, message, type, read, action, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var action []byte
	err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Title, &n.Message, &n.Type, &n.Read, &action, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("notification", "")
	}
	if err != nil {
		return nil, err
	}
	if len(action) > 0 {
		n.Action = &Action{}
		if err := json.Unmarshal(action, n.Action); err != nil {
			return nil, fmt.Errorf("decode notification action: %w", err)
		}
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	var action []byte
	if n.Action != nil {
		var err error
		action, err = json.Marshal(n.Action)
		if err != nil {
			return fmt.Errorf("encode notification action: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification (id, recipient_id, sender_id, title, message, type, read, action)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7)`,
		n.ID, n.RecipientID, n.SenderID, n.Title, n.Message, n.Type, action)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.pool.QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
}

func (r *repoPG) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	filter := ``
	if unreadOnly {
		filter = ` AND read = FALSE`
	}
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1`+filter, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE recipient_id = $1`+filter+
			` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1 AND read = FALSE`, recipientID).Scan(&count)
	return count, err
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notification SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notification", id.String())
	}
	return nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification SET read = TRUE WHERE recipient_id = $1 AND read = FALSE`, recipientID)
	return err
}
