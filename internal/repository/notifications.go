package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/AthleteDocs/internal/model"
)

var notificationColumns = columns(model.Notification{})

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// CreateNotification inserts n and fills in its id.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	query, args, err := psql().
		Insert(notificationTable).
		Columns(notificationColumns[1:]...).
		Values(n.Type, n.Title, n.Message, n.EntityType, n.EntityID, n.DocumentID, n.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert notification: %w", err)
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n.ID); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) NotificationsByEntity(ctx context.Context, entityType model.EntityType, entityID int64) ([]model.Notification, error) {
	query, args, _ := psql().
		Select(notificationColumns...).
		From(notificationTable).
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	var out []model.Notification
	if err := pgxscan.Select(ctx, r.pool, &out, query, args...); err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	return out, nil
}
